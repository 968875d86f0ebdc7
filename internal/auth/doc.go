// Package auth provides accounts, authentication and authorisation for the
// balancer.
//
// It implements a three-role model:
//   - user: owns a device catalogue and power budget
//   - admin: a user who can also read the audit trail
//   - service: the device-control microservice, which reads every
//     catalogue and posts status and balancer-action callbacks
//
// Passwords are hashed with Argon2id and checked for entropy at
// registration. Access tokens are HS256 JWTs carrying the username and
// role. Websocket connections authenticate with single-use tickets.
package auth
