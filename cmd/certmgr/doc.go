// Package main (cmd/certmgr) implements the certificate lifecycle CLI.
//
// certmgr acquires, renews, stores, and distributes TLS certificate bundles
// for the domains declared in its TOML manifest, or for a single domain
// configured through the environment (DOMAIN, CERTBOT_EMAIL, CERTBOT_METHOD,
// CERTBOT_STAGING).
//
// Commands:
//
//	init   - acquire and distribute bundles for domains without a valid one
//	renew  - renew due domains, or force renewal of specific domains
//	check  - report per-domain status and expiry without side effects
//	cron   - run the renewal scheduler continuously without the API
//	serve  - run the scheduler with the status and trigger HTTP API
//
// Exit codes distinguish failure classes so calling infrastructure can react:
// 0 on success or no action needed, 1 for transient failures worth retrying,
// 2 for configuration errors that must be fixed before a retry can succeed.
//
// Example workflow:
//
//  1. First acquisition for all configured domains:
//     certmgr --config /etc/certmgr.toml init
//
//  2. Continuous renewal with the operational API:
//     certmgr --config /etc/certmgr.toml serve --listen-addr 0.0.0.0:8080
//
//  3. Status from the running daemon:
//     certmgr check --server http://127.0.0.1:8080
//
//  4. Single-domain container deployment without a manifest:
//     DOMAIN=web.example.com CERTBOT_METHOD=standalone certmgr init
package main
