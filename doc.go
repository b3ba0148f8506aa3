// Package simpleredis provides an in-memory Redis-compatible server.
//
// The server speaks RESP2 and RESP3 (selected per connection with HELLO),
// keeps strings, hashes and sets in a sharded in-memory keyspace with
// expiration, and runs Lua scripts with EVAL and EVALSHA.
//
// Basic usage:
//
//	srv, err := simpleredis.New(
//		simpleredis.WithAddr(":6379"),
//		simpleredis.WithPassword("secret"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close()
//
//	if err := srv.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// The building blocks are usable on their own:
//
//   - protocol: the RESP codec (frames, encoder, incremental decoder)
//   - storage: the sharded keyspace
//   - lua: the scripting engine
//   - server: the TCP server and command table
package simpleredis
