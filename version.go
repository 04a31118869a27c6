package notebooksdk

// Version identifies this SDK build; sent as the sdk_version query
// parameter on every duplex-channel connection (spec.md §6).
func Version() string {
	return "0.1.0-alpha"
}
