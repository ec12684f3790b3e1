// Package cache is the disk-backed blob store behind the content store. Blobs
// are addressed by repository and BLAKE3 digest and laid out as
// StoragePath/<repository>/blobs/<aa>/<digest>. Writes go through a temp file
// and rename, and the digest is verified before the rename so a partially
// transferred or corrupted payload never becomes visible.
package cache
