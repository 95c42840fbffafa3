// Package storage declares the storage configuration and the object storage contract.
//
// Concrete backends live in storage/postgres: the PostgreSQL connection pool and schema
// migrations, the redis client behind the identity cache, reset tokens and OTP codes, and
// the S3 client used for question, option and avatar images.
package storage
