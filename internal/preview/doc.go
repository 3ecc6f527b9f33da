// Package preview defines the types shared by the link preview subsystems:
// the cached record, single and batch results, the error taxonomy and the
// URL normalizer that produces cache identities.
package preview
