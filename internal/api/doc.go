// Package api serves the mirrored content store over HTTP. Routes:
//   - GET / redirects to the configured default key.
//   - GET /<url> returns the stored content for the decoded key, follows a
//     stored redirect for one hop, or answers 404.
package api
