// Package main provides the entry point for cfenv.
//
// cfenv syncs .env files through Cloudflare Workers KV:
//
//   - flat mode stores one key per variable plus a metadata record
//   - snapshot mode stores versioned, optionally encrypted blobs
//   - watch keeps a local env file in step with a flat target
//
// Usage:
//
//	cfenv login --account-id <id>
//	cfenv setup --project shop --env prod
//	cfenv push --file .env
//	cfenv --env prod pull --out .env.prod
package main
