// Package lua runs Redis-compatible Lua scripts for EVAL and EVALSHA.
//
// Scripts see the KEYS and ARGV tables and the redis library: redis.call
// and redis.pcall run commands through a Caller, and redis.status_reply,
// redis.error_reply and redis.sha1hex build replies. Values cross the
// boundary following the Redis conversion rules, so a script returning
// {ok="OK"} answers with a simple string and one returning {double=1.5}
// with a double.
//
// Compiled scripts are cached by SHA1 digest and shared between calls.
// Every call runs in a fresh state with only the base, table, string and
// math libraries opened.
package lua
