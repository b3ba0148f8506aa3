package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stonexwx/simple-redis/lua"
	"github.com/stonexwx/simple-redis/protocol"
	"github.com/stonexwx/simple-redis/storage"
)

// commandFunc executes a command whose arity has been checked. args
// excludes the command name.
type commandFunc func(c *Client, args [][]byte) protocol.Frame

type commandFlags uint8

const (
	// flagNoAuth commands may run before the client authenticates
	flagNoAuth commandFlags = 1 << iota
	// flagNoScript commands are refused inside redis.call
	flagNoScript
	// flagExclusive commands run with every other command paused
	flagExclusive
)

// command describes an entry of the command table. A positive arity is
// the exact argument count including the name; a negative one is the
// minimum.
type command struct {
	arity int
	flags commandFlags
	fn    commandFunc
}

var commands map[string]command

func init() {
	commands = map[string]command{
		// Connection
		"PING":   {-1, flagNoAuth, pingCommand},
		"ECHO":   {2, 0, echoCommand},
		"HELLO":  {-1, flagNoAuth | flagNoScript, helloCommand},
		"AUTH":   {-2, flagNoAuth | flagNoScript, authCommand},
		"QUIT":   {-1, flagNoAuth | flagNoScript, quitCommand},
		"CLIENT": {-2, flagNoScript, clientCommand},

		// Strings
		"GET":    {2, 0, getCommand},
		"SET":    {-3, 0, setCommand},
		"SETNX":  {3, 0, setnxCommand},
		"INCR":   {2, 0, incrCommand},
		"DECR":   {2, 0, decrCommand},
		"INCRBY": {3, 0, incrbyCommand},
		"DECRBY": {3, 0, decrbyCommand},

		// Keys
		"DEL":      {-2, 0, delCommand},
		"EXISTS":   {-2, 0, existsCommand},
		"TYPE":     {2, 0, typeCommand},
		"KEYS":     {2, 0, keysCommand},
		"DBSIZE":   {1, 0, dbsizeCommand},
		"FLUSHALL": {-1, 0, flushallCommand},
		"EXPIRE":   {3, 0, expireCommand},
		"PEXPIRE":  {3, 0, pexpireCommand},
		"PERSIST":  {2, 0, persistCommand},
		"TTL":      {2, 0, ttlCommand},
		"PTTL":     {2, 0, pttlCommand},

		// Hashes
		"HSET":    {-4, 0, hsetCommand},
		"HGET":    {3, 0, hgetCommand},
		"HDEL":    {-3, 0, hdelCommand},
		"HGETALL": {2, 0, hgetallCommand},

		// Sets
		"SADD":      {-3, 0, saddCommand},
		"SREM":      {-3, 0, sremCommand},
		"SMEMBERS":  {2, 0, smembersCommand},
		"SISMEMBER": {3, 0, sismemberCommand},

		// Scripting
		"EVAL":    {-3, flagNoScript | flagExclusive, evalCommand},
		"EVALSHA": {-3, flagNoScript | flagExclusive, evalshaCommand},
		"SCRIPT":  {-2, flagNoScript, scriptCommand},
	}
}

var (
	okReply          = protocol.SimpleString("OK")
	errSyntaxReply   = protocol.SimpleError("ERR syntax error")
	errIntegerReply  = protocol.SimpleError("ERR " + storage.ErrNotInteger.Error())
	errNoAuthReply   = protocol.SimpleError("NOAUTH Authentication required.")
	errNotFromScript = protocol.SimpleError("ERR This Redis command is not allowed from script")
)

// errorReply builds an error reply from arbitrary text
func errorReply(format string, args ...interface{}) protocol.Frame {
	return protocol.SimpleError(protocol.SanitizeText(fmt.Sprintf(format, args...)))
}

// storageError maps storage errors to Redis error replies
func storageError(err error) protocol.Frame {
	switch {
	case errors.Is(err, storage.ErrWrongType):
		return protocol.SimpleError(storage.ErrWrongType.Error())
	case errors.Is(err, storage.ErrNotInteger):
		return errIntegerReply
	case errors.Is(err, storage.ErrOverflow):
		return protocol.SimpleError("ERR " + storage.ErrOverflow.Error())
	}
	return errorReply("ERR %v", err)
}

func checkArity(arity, argc int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}

func parseInt(b []byte) (int64, bool) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	return n, err == nil
}

func bulkStrings(values []string) protocol.Frame {
	items := make([]protocol.Frame, len(values))
	for i, v := range values {
		items[i] = protocol.BulkString(v)
	}
	return protocol.Array(items...)
}

func stringArgs(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

// execute runs one request frame and returns its reply
func (c *Client) execute(frame protocol.Frame) protocol.Frame {
	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		c.server.recordError("protocol")
		return errorReply("ERR Protocol error: %v", err)
	}
	return c.dispatch(cmd.Name, cmd.Args)
}

// dispatch looks up, checks and runs a command
func (c *Client) dispatch(name string, args [][]byte) protocol.Frame {
	s := c.server
	start := time.Now()
	s.commandCount.Add(1)

	s.logger.Debug("Executing command", "id", c.id, "cmd", name, "args", len(args), "script", c.inScript)

	reply := c.call(name, args)

	if reply.IsError() {
		s.recordError("command")
	}
	if s.metrics != nil {
		s.metrics.RecordCommandProcessed(name, time.Since(start))
	}
	return reply
}

func (c *Client) call(name string, args [][]byte) protocol.Frame {
	cmd, ok := commands[name]
	if !ok {
		quoted := make([]string, 0, len(args))
		for _, a := range args {
			quoted = append(quoted, "'"+string(a)+"'")
		}
		return errorReply("ERR unknown command '%s', with args beginning with: %s", name, strings.Join(quoted, " "))
	}
	if c.inScript && cmd.flags&flagNoScript != 0 {
		return errNotFromScript
	}
	if !c.authenticated && cmd.flags&flagNoAuth == 0 {
		return errNoAuthReply
	}
	if !checkArity(cmd.arity, len(args)+1) {
		return errorReply("ERR wrong number of arguments for '%s' command", strings.ToLower(name))
	}

	// Commands issued by a script already run under the script's lock
	if !c.inScript {
		if cmd.flags&flagExclusive != 0 {
			c.server.execMu.Lock()
			defer c.server.execMu.Unlock()
		} else {
			c.server.execMu.RLock()
			defer c.server.execMu.RUnlock()
		}
	}
	return cmd.fn(c, args)
}

// callFromScript runs a redis.call on behalf of a script
func (s *Server) callFromScript(args [][]byte) protocol.Frame {
	c := &Client{server: s, authenticated: true, inScript: true}
	return c.dispatch(strings.ToUpper(string(args[0])), args[1:])
}

// Connection commands

func pingCommand(c *Client, args [][]byte) protocol.Frame {
	switch len(args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkBytes(args[0])
	}
	return errorReply("ERR wrong number of arguments for 'ping' command")
}

func echoCommand(c *Client, args [][]byte) protocol.Frame {
	return protocol.BulkBytes(args[0])
}

// helloCommand handles HELLO [protover [AUTH username password] [SETNAME name]].
// A new protocol version applies to the reply itself.
func helloCommand(c *Client, args [][]byte) protocol.Frame {
	version := c.version
	if len(args) > 0 {
		n, ok := parseInt(args[0])
		if !ok {
			return errorReply("ERR Protocol version is not an integer or out of range")
		}
		v, err := protocol.ParseVersion(int(n))
		if err != nil {
			return errorReply("NOPROTO unsupported protocol version")
		}
		version = v
		args = args[1:]
	}

	var name *string
	for len(args) > 0 {
		switch strings.ToUpper(string(args[0])) {
		case "AUTH":
			if len(args) < 3 {
				return errSyntaxReply
			}
			if reply, ok := c.authenticate(string(args[1]), string(args[2])); !ok {
				return reply
			}
			args = args[3:]
		case "SETNAME":
			if len(args) < 2 {
				return errSyntaxReply
			}
			n := string(args[1])
			if !validClientName(n) {
				return errorReply("ERR Client names cannot contain spaces, newlines or special characters.")
			}
			name = &n
			args = args[2:]
		default:
			return errorReply("ERR Syntax error in HELLO option '%s'", string(args[0]))
		}
	}

	if !c.authenticated {
		return errorReply("NOAUTH HELLO must be called with the client already authenticated, otherwise the HELLO <proto> AUTH <user> <pass> option can be used to authenticate the client and select the RESP protocol version at the same time")
	}
	if name != nil {
		c.name = *name
	}
	c.setVersion(version)

	return protocol.MapOf(
		protocol.MapEntry{Key: "server", Value: protocol.BulkString("simple-redis")},
		protocol.MapEntry{Key: "version", Value: protocol.BulkString(c.server.version)},
		protocol.MapEntry{Key: "proto", Value: protocol.Integer(int64(version))},
		protocol.MapEntry{Key: "id", Value: protocol.Integer(c.id)},
		protocol.MapEntry{Key: "mode", Value: protocol.BulkString("standalone")},
		protocol.MapEntry{Key: "role", Value: protocol.BulkString("master")},
		protocol.MapEntry{Key: "modules", Value: protocol.Array()},
	)
}

func authCommand(c *Client, args [][]byte) protocol.Frame {
	var user, password string
	switch len(args) {
	case 1:
		user, password = "default", string(args[0])
	case 2:
		user, password = string(args[0]), string(args[1])
	default:
		return errSyntaxReply
	}
	if c.server.password == "" && len(args) == 1 {
		return errorReply("ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}
	reply, _ := c.authenticate(user, password)
	return reply
}

// authenticate checks credentials for the default user
func (c *Client) authenticate(user, password string) (protocol.Frame, bool) {
	if c.server.password != "" && (user != "default" || password != c.server.password) {
		c.server.logger.Info("Authentication failed", "id", c.id, "user", user)
		return protocol.SimpleError("WRONGPASS invalid username-password pair or user is disabled."), false
	}
	c.authenticated = true
	return okReply, true
}

func quitCommand(c *Client, args [][]byte) protocol.Frame {
	c.quit = true
	return okReply
}

func validClientName(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return false
		}
	}
	return true
}

func clientCommand(c *Client, args [][]byte) protocol.Frame {
	sub := strings.ToUpper(string(args[0]))
	switch {
	case sub == "ID" && len(args) == 1:
		return protocol.Integer(c.id)
	case sub == "GETNAME" && len(args) == 1:
		if c.name == "" {
			return protocol.Null()
		}
		return protocol.BulkString(c.name)
	case sub == "SETNAME" && len(args) == 2:
		name := string(args[1])
		if !validClientName(name) {
			return errorReply("ERR Client names cannot contain spaces, newlines or special characters.")
		}
		c.name = name
		return okReply
	case sub == "SETINFO" && len(args) == 3:
		switch strings.ToUpper(string(args[1])) {
		case "LIB-NAME", "LIB-VER":
			return okReply
		}
		return errorReply("ERR Unrecognized option '%s'", string(args[1]))
	case sub == "ID", sub == "GETNAME", sub == "SETNAME", sub == "SETINFO":
		return errorReply("ERR wrong number of arguments for 'client|%s' command", strings.ToLower(sub))
	}
	return errorReply("ERR unknown subcommand '%s'. Try CLIENT HELP.", string(args[0]))
}

// String commands

func getCommand(c *Client, args [][]byte) protocol.Frame {
	key := string(args[0])
	if t := c.server.storage.Type(key); t != storage.ValueTypeString && t != storage.ValueTypeNone {
		return storageError(storage.ErrWrongType)
	}
	value, ok := c.server.storage.Get(key)
	if !ok {
		return protocol.Null()
	}
	return protocol.BulkBytes(value)
}

// setCommand handles SET key value [EX seconds|PX milliseconds] [NX|XX]
func setCommand(c *Client, args [][]byte) protocol.Frame {
	key, value := string(args[0]), args[1]

	var expiry *time.Time
	var nx, xx bool
	for i := 2; i < len(args); i++ {
		switch opt := strings.ToUpper(string(args[i])); opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			if expiry != nil || i+1 >= len(args) {
				return errSyntaxReply
			}
			n, ok := parseInt(args[i+1])
			if !ok {
				return errIntegerReply
			}
			unit := time.Second
			if opt == "PX" {
				unit = time.Millisecond
			}
			if n <= 0 || n > math.MaxInt64/int64(unit) {
				return errorReply("ERR invalid expire time in 'set' command")
			}
			t := time.Now().Add(time.Duration(n) * unit)
			expiry = &t
			i++
		default:
			return errSyntaxReply
		}
	}
	if nx && xx {
		return errSyntaxReply
	}

	switch {
	case nx:
		if !c.server.storage.SetNX(key, value, expiry) {
			return protocol.Null()
		}
	case xx:
		if !c.server.storage.SetXX(key, value, expiry) {
			return protocol.Null()
		}
	default:
		if err := c.server.storage.Set(key, value, expiry); err != nil {
			return storageError(err)
		}
	}
	return okReply
}

func setnxCommand(c *Client, args [][]byte) protocol.Frame {
	if c.server.storage.SetNX(string(args[0]), args[1], nil) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func incrBy(c *Client, key []byte, delta int64) protocol.Frame {
	n, err := c.server.storage.IncrBy(string(key), delta)
	if err != nil {
		return storageError(err)
	}
	return protocol.Integer(n)
}

func incrCommand(c *Client, args [][]byte) protocol.Frame {
	return incrBy(c, args[0], 1)
}

func decrCommand(c *Client, args [][]byte) protocol.Frame {
	return incrBy(c, args[0], -1)
}

func incrbyCommand(c *Client, args [][]byte) protocol.Frame {
	delta, ok := parseInt(args[1])
	if !ok {
		return errIntegerReply
	}
	return incrBy(c, args[0], delta)
}

func decrbyCommand(c *Client, args [][]byte) protocol.Frame {
	delta, ok := parseInt(args[1])
	if !ok || delta == math.MinInt64 {
		return errIntegerReply
	}
	return incrBy(c, args[0], -delta)
}

// Key commands

func delCommand(c *Client, args [][]byte) protocol.Frame {
	return protocol.Integer(c.server.storage.Del(stringArgs(args)...))
}

func existsCommand(c *Client, args [][]byte) protocol.Frame {
	return protocol.Integer(c.server.storage.Exists(stringArgs(args)...))
}

func typeCommand(c *Client, args [][]byte) protocol.Frame {
	return protocol.SimpleString(c.server.storage.Type(string(args[0])).String())
}

func keysCommand(c *Client, args [][]byte) protocol.Frame {
	keys := c.server.storage.Keys(string(args[0]))
	sort.Strings(keys)
	return bulkStrings(keys)
}

func dbsizeCommand(c *Client, args [][]byte) protocol.Frame {
	return protocol.Integer(c.server.storage.KeyCount())
}

func flushallCommand(c *Client, args [][]byte) protocol.Frame {
	if len(args) > 1 {
		return errSyntaxReply
	}
	if len(args) == 1 {
		switch strings.ToUpper(string(args[0])) {
		case "SYNC", "ASYNC":
		default:
			return errSyntaxReply
		}
	}
	if err := c.server.storage.FlushAll(); err != nil {
		return storageError(err)
	}
	c.server.logger.Info("Database flushed", "id", c.id)
	return okReply
}

func expireAfter(c *Client, args [][]byte, unit time.Duration, name string) protocol.Frame {
	n, ok := parseInt(args[1])
	if !ok {
		return errIntegerReply
	}
	if n > math.MaxInt64/int64(unit) || n < math.MinInt64/int64(unit) {
		return errorReply("ERR invalid expire time in '%s' command", name)
	}
	if c.server.storage.Expire(string(args[0]), time.Now().Add(time.Duration(n)*unit)) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func expireCommand(c *Client, args [][]byte) protocol.Frame {
	return expireAfter(c, args, time.Second, "expire")
}

func pexpireCommand(c *Client, args [][]byte) protocol.Frame {
	return expireAfter(c, args, time.Millisecond, "pexpire")
}

func persistCommand(c *Client, args [][]byte) protocol.Frame {
	if c.server.storage.Persist(string(args[0])) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func ttlCommand(c *Client, args [][]byte) protocol.Frame {
	ttl := c.server.storage.TTL(string(args[0]))
	if ttl < 0 {
		return protocol.Integer(int64(ttl / time.Second))
	}
	return protocol.Integer(int64((ttl + 500*time.Millisecond) / time.Second))
}

func pttlCommand(c *Client, args [][]byte) protocol.Frame {
	ttl := c.server.storage.TTL(string(args[0]))
	if ttl < 0 {
		return protocol.Integer(int64(ttl / time.Second))
	}
	return protocol.Integer(ttl.Milliseconds())
}

// Hash commands

func hsetCommand(c *Client, args [][]byte) protocol.Frame {
	if len(args)%2 != 1 {
		return errorReply("ERR wrong number of arguments for 'hset' command")
	}
	fields := make(map[string][]byte, len(args)/2)
	for i := 1; i < len(args); i += 2 {
		fields[string(args[i])] = args[i+1]
	}
	added, err := c.server.storage.HSet(string(args[0]), fields)
	if err != nil {
		return storageError(err)
	}
	return protocol.Integer(added)
}

func hgetCommand(c *Client, args [][]byte) protocol.Frame {
	value, ok, err := c.server.storage.HGet(string(args[0]), string(args[1]))
	if err != nil {
		return storageError(err)
	}
	if !ok {
		return protocol.Null()
	}
	return protocol.BulkBytes(value)
}

func hdelCommand(c *Client, args [][]byte) protocol.Frame {
	removed, err := c.server.storage.HDel(string(args[0]), stringArgs(args[1:])...)
	if err != nil {
		return storageError(err)
	}
	return protocol.Integer(removed)
}

// hgetallCommand replies with a map. Field names that cannot be map keys
// fall back to the flat field/value array.
func hgetallCommand(c *Client, args [][]byte) protocol.Frame {
	fields, err := c.server.storage.HGetAll(string(args[0]))
	if err != nil {
		return storageError(err)
	}

	names := make([]string, 0, len(fields))
	textKeys := true
	for name := range fields {
		names = append(names, name)
		textKeys = textKeys && protocol.ValidText(name)
	}

	if !textKeys {
		sort.Strings(names)
		items := make([]protocol.Frame, 0, 2*len(names))
		for _, name := range names {
			items = append(items, protocol.BulkString(name), protocol.BulkBytes(fields[name]))
		}
		return protocol.Array(items...)
	}

	m := make(map[string]protocol.Frame, len(fields))
	for name, value := range fields {
		m[name] = protocol.BulkBytes(value)
	}
	return protocol.Map(m)
}

// Set commands

func saddCommand(c *Client, args [][]byte) protocol.Frame {
	added, err := c.server.storage.SAdd(string(args[0]), stringArgs(args[1:])...)
	if err != nil {
		return storageError(err)
	}
	return protocol.Integer(added)
}

func sremCommand(c *Client, args [][]byte) protocol.Frame {
	removed, err := c.server.storage.SRem(string(args[0]), stringArgs(args[1:])...)
	if err != nil {
		return storageError(err)
	}
	return protocol.Integer(removed)
}

func smembersCommand(c *Client, args [][]byte) protocol.Frame {
	members, err := c.server.storage.SMembers(string(args[0]))
	if err != nil {
		return storageError(err)
	}
	items := make([]protocol.Frame, len(members))
	for i, m := range members {
		items[i] = protocol.BulkString(m)
	}
	return protocol.Set(items...)
}

func sismemberCommand(c *Client, args [][]byte) protocol.Frame {
	ok, err := c.server.storage.SIsMember(string(args[0]), string(args[1]))
	if err != nil {
		return storageError(err)
	}
	if ok {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

// Scripting commands

// scriptArgs splits "numkeys key... arg..." into keys and arguments
func scriptArgs(args [][]byte) ([]string, []string, protocol.Frame, bool) {
	numKeys, ok := parseInt(args[0])
	switch {
	case !ok:
		return nil, nil, errIntegerReply, false
	case numKeys < 0:
		return nil, nil, protocol.SimpleError("ERR Number of keys can't be negative"), false
	case numKeys > int64(len(args)-1):
		return nil, nil, protocol.SimpleError("ERR Number of keys can't be greater than number of args"), false
	}
	rest := args[1:]
	return stringArgs(rest[:numKeys]), stringArgs(rest[numKeys:]), protocol.Frame{}, true
}

// scriptReply maps an engine result to a reply
func (c *Client) scriptReply(reply protocol.Frame, err error) protocol.Frame {
	if err == nil {
		return reply
	}
	if errors.Is(err, lua.ErrNoScript) {
		return protocol.SimpleError(lua.ErrNoScript.Error())
	}
	var scriptErr *lua.ScriptError
	if errors.As(err, &scriptErr) {
		c.server.logger.Debug("Script failed", "id", c.id, "sha", scriptErr.SHA, "error", scriptErr.Err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errorReply("ERR Script killed after exceeding the time limit of %v", c.server.scriptTimeout)
	case errors.Is(err, context.Canceled):
		return errorReply("ERR Script killed by server shutdown")
	}
	return errorReply("ERR %v", err)
}

// scriptContext bounds a script by the server lifetime and the script
// time limit
func (c *Client) scriptContext() (context.Context, context.CancelFunc) {
	if c.server.scriptTimeout > 0 {
		return context.WithTimeout(c.server.ctx, c.server.scriptTimeout)
	}
	return context.WithCancel(c.server.ctx)
}

func evalCommand(c *Client, args [][]byte) protocol.Frame {
	keys, argv, reply, ok := scriptArgs(args[1:])
	if !ok {
		return reply
	}
	ctx, cancel := c.scriptContext()
	defer cancel()
	return c.scriptReply(c.server.lua.Eval(ctx, string(args[0]), keys, argv))
}

func evalshaCommand(c *Client, args [][]byte) protocol.Frame {
	keys, argv, reply, ok := scriptArgs(args[1:])
	if !ok {
		return reply
	}
	ctx, cancel := c.scriptContext()
	defer cancel()
	return c.scriptReply(c.server.lua.EvalSHA(ctx, string(args[0]), keys, argv))
}

func scriptCommand(c *Client, args [][]byte) protocol.Frame {
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "LOAD":
		if len(args) != 2 {
			return errorReply("ERR wrong number of arguments for 'script|load' command")
		}
		sha, err := c.server.lua.LoadScript(string(args[1]))
		if err != nil {
			return c.scriptReply(protocol.Frame{}, err)
		}
		return protocol.BulkString(sha)

	case "EXISTS":
		if len(args) < 2 {
			return errorReply("ERR wrong number of arguments for 'script|exists' command")
		}
		found := c.server.lua.ScriptExists(stringArgs(args[1:]))
		items := make([]protocol.Frame, len(found))
		for i, ok := range found {
			items[i] = protocol.Integer(0)
			if ok {
				items[i] = protocol.Integer(1)
			}
		}
		return protocol.Array(items...)

	case "FLUSH":
		if len(args) > 2 {
			return errSyntaxReply
		}
		c.server.lua.ScriptFlush()
		return okReply
	}
	return errorReply("ERR unknown subcommand '%s'. Try SCRIPT HELP.", string(args[0]))
}
