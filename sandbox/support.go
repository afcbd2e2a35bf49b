package sandbox

// SupportReport describes which isolation primitives this host can apply.
// Available is the conjunction the registry checks before sandboxed loads;
// the per-primitive fields feed diagnostics and the status surface.
type SupportReport struct {
	Available      bool   `json:"available"`
	Namespaces     bool   `json:"namespaces"`
	UserNamespaces bool   `json:"user_namespaces"`
	Cgroups        bool   `json:"cgroups"`
	Seccomp        bool   `json:"seccomp"`
	Capabilities   bool   `json:"capabilities"`
	Reason         string `json:"reason,omitempty"`
}
