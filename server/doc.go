// Package server provides a Redis protocol server on top of the storage
// and lua packages.
//
// Every connection owns a protocol.Reader and protocol.Writer. A connection
// starts in RESP2 and HELLO 3 switches both directions to RESP3, so replies
// such as HGETALL and SMEMBERS are written as maps and sets to RESP3
// clients and as flat arrays to RESP2 clients.
//
// The server is compatible with clients like github.com/redis/go-redis and
// supports:
//   - Connection commands (PING, ECHO, HELLO, AUTH, CLIENT, QUIT)
//   - Strings, keys and expiration (GET, SET, INCR, DEL, EXPIRE, TTL, KEYS, ...)
//   - Hashes and sets (HSET, HGETALL, SADD, SMEMBERS, ...)
//   - Lua script execution (EVAL, EVALSHA, SCRIPT LOAD, SCRIPT EXISTS, SCRIPT FLUSH)
//   - Pipelining, with replies flushed before the server waits for more input
//
// Scripts run atomically: while EVAL or EVALSHA executes no other command
// is processed. A script that exceeds the script time limit, or is still
// running when the server stops, is aborted and its caller gets an error.
package server
