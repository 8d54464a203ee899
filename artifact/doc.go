// Package artifact persists signed artifacts. The local store is
// authoritative: a dedicated app-private directory holding byte-exact files
// named Prefix_<yyyyMMdd_HHmmss>_<randomsuffix>.jpg. There is no index
// file; directory listing is the only enumeration mechanism.
//
// Files reach their final path exclusively by rename from a pending file in
// the same directory, so partial writes never land at a final name, and
// artifact bytes are never re-encoded or mutated after commit.
//
// Remote mirrors (s3://, ipfs://) can be attached through MirrorFor. They
// receive committed artifacts verbatim and are strictly best-effort; a
// mirror failure never fails the signing or publish operation.
package artifact
