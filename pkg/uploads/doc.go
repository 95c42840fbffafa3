// Package uploads stores question, option and avatar files in object storage.
//
// POST /v1/storage/upload takes a multipart "file" field up to 10 MiB. The content
// type is sniffed from the first bytes; only images and PDF are accepted. Objects are
// written under uploads/{yyyy}/{mm}/{uuid}{ext} and the response carries their URL.
package uploads
