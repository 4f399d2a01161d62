package revd

// Credential encryption boundary.
//
// Camera credentials a process stores alongside a revd instance (RTSP
// URLs, usernames, passwords) are expected to be encrypted at rest
// with AES-256-GCM before being written anywhere revd or its ledger
// can see them. The wire shape is IV(12 bytes) | ciphertext | tag(16
// bytes), base64-encoded for storage in a text column. revd does not
// implement this: it is a boundary contract for the embedding process,
// not a feature of the storage engine (spec §6, §9 Non-goals).
