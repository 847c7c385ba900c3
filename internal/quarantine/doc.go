// Package quarantine stores untrusted forum attachments in a form that
// cannot be executed by accident.
//
// Every attachment passes a policy before and after it is fetched: a size
// cap, an optional same-host rule and a per-thread count. Accepted bytes are
// written under a name that always ends in ".quarantine", whatever the file
// claims to be, and each stored file gets exactly one line in the manifest.
// Files are never opened, parsed or executed after they are written.
//
// Layout:
//
//	<root>/manifest.jsonl
//	<root>/<forum>/<thread hash[:16]>/<sha256[:12]>_<name>.quarantine
//	<root>/quarantine-<run id>.zip   (optional, AES-256)
package quarantine
