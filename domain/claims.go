package domain

// ClaimSet is the normalized identity information extracted from an external
// provider after a completed authorization flow. Subject is the only claim
// that is guaranteed to be present; everything else is best effort and used
// only as a hint when a new identity is created.
type ClaimSet struct {
	Provider      string         // provider key the claims originate from
	Subject       string         // provider-scoped stable user id
	Email         string
	EmailVerified bool
	Name          string         // display-name hint, never used verbatim
	Raw           map[string]any // unprocessed provider payload
}
