// Package auth provides the authentication contract for realmgate and its
// concrete implementation.
//
// # Policy
//
// Policy is the only coupling between the gateway and credential or
// directory systems. The gateway calls it from session handlers:
//
//	ok := policy.ValidateLogin(ctx, sess, user, pass, subscription, cdKey)
//	servers, ok := policy.ListAvailableServers(ctx, sess)
//	ok = policy.ValidateServerIdentity(ctx, sess, serverID)
//	secrets, err := policy.GenerateSessionSecrets(rand.Reader)
//
// A false result is a decision. ListAvailableServers returning ok=false
// signals that the directory could not be produced.
//
// # Session Secrets
//
// SecretGenerator consumes 12 bytes of entropy and decodes them
// little-endian into OneTimeKey, SessionIDHigh and SessionIDLow. Policies
// embed it to get this behaviour. A short read yields ErrShortEntropy.
//
// # StorePolicy
//
// StorePolicy answers from internal/store:
//
//   - ValidateServerIdentity: realm exists, is online, and is not full
//   - ValidateLogin: account exists, bcrypt hash matches, not banned, every
//     requested subscription flag is held, cd key matches when bound
//   - ListAvailableServers: every realm in the directory
//
// Unknown usernames still perform a bcrypt compare against a dummy hash.
// Failed credentials count toward an optional lockout.Tracker, and every
// decision is written to the login audit trail.
//
// # Operator Tokens
//
// The HTTP API is protected by HS256 JWTs signed with auth.jwt_secret:
//
//	v, err := NewJWTVerifier(secret)
//	token, err := v.Generate("alice", 24*time.Hour)
//	handler = HTTPAuthMiddleware(v)(handler)
//
// The verified operator name is available via OperatorFromContext.
package auth
