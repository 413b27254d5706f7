package vxcf

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oresoftware/cmd-line-parser/v1/clp"

	au "github.com/voxcord/voxcord/src/common/v-aurora"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

var ProcUUID = uuid.New()

// ConfigVars holds all configuration settings
type ConfigVars struct {
	// meta
	STACK_TRACES bool
	IN_PROD      bool
	IS_DEBUG     bool
	LOG_LEVEL    string

	API_SERVER_PORT int64
	API_SERVER_HOST string

	API_WSS_PORT int64
	API_WSS_HOST string

	// mongo
	MONGO_PORT        int64
	MONGO_HOST        string
	MONGO_DB_NAME     string
	MONGO_PROTOCOL    string
	MONGO_DB_FULL_URL string // computed prop

	// redis
	REDIS_HOST    string
	REDIS_PORT    int64
	REDIS_ADDRESS string // computed prop

	// realtime core knobs -- all time-based behavior in the core lives here,
	// not in constants
	PRESENCE_DEBOUNCE_MS    int64
	PRESENCE_MIRROR_TTL_MS  int64
	CALL_RING_TIMEOUT_MS    int64
	CALL_SESSION_GRACE_MS   int64
	CONN_OUTBOUND_QUEUE_LEN int64

	API_SERVER_ADDRESS string // computed prop
	API_WSS_ADDRESS    string // computed prop
}

var c = clp.NewCmdParser()

var vars = ConfigVars{
	IS_DEBUG:  c.GetBool(false, "vox_is_debug", c.Flags("--debug"), "set app to debug mode (more logs etc)"),
	LOG_LEVEL: c.GetString("info", "vox_log_level", c.Flags("--log-level"), "app log level -> (trace,debug,info,warn,error)"),

	STACK_TRACES: c.GetBool(true, "vox_with_stack_traces", c.Flags("--use-stack-traces"), "log filtered stack traces with errors"),

	API_SERVER_PORT: c.GetInt(3000, "vox_api_server_port", c.Flags("--api-server-port"), "port for rest api server"),
	API_SERVER_HOST: c.GetString("localhost", "vox_api_server_host", c.Flags("--api-server-host"), "api http server host"),

	API_WSS_PORT: c.GetInt(3001, "vox_wss_port", c.Flags("--api-wss-port"), "port for wss"),
	API_WSS_HOST: c.GetString("localhost", "vox_wss_host", c.Flags("--api-wss-host"), "wss host"),

	// mongo
	MONGO_PORT:        c.GetInt(27017, "vox_mongo_port", c.Flags("--mongo-port"), "Port for mongodb"),
	MONGO_PROTOCOL:    c.GetString("mongodb", "vox_mongo_protocol", c.Flags("--mongo-protocol"), "mongo connection protocol"),
	MONGO_HOST:        c.GetString("0.0.0.0", "vox_mongo_host", c.Flags("--mongo-host"), "mongo connection host"),
	MONGO_DB_NAME:     c.GetString("voxcord", "vox_mongo_db_name", c.Flags("--mongo-db-name"), "name of mongo db to use"),
	MONGO_DB_FULL_URL: "", // leave empty, computed property

	// redis
	REDIS_HOST: c.GetString("localhost", "vox_redis_host", c.Flags("--redis-host"), "redis host (presence mirror)"),
	REDIS_PORT: c.GetInt(6379, "vox_redis_port", c.Flags("--redis-port"), "redis port (presence mirror)"),

	PRESENCE_DEBOUNCE_MS:    c.GetInt(4000, "vox_presence_debounce_ms", c.Flags("--presence-debounce-ms"), "how long to wait before reporting a user offline (absorbs tab refreshes)"),
	PRESENCE_MIRROR_TTL_MS:  c.GetInt(90000, "vox_presence_mirror_ttl_ms", c.Flags("--presence-mirror-ttl-ms"), "ttl on redis presence keys"),
	CALL_RING_TIMEOUT_MS:    c.GetInt(35000, "vox_call_ring_timeout_ms", c.Flags("--call-ring-timeout-ms"), "how long an unanswered call rings before timing out"),
	CALL_SESSION_GRACE_MS:   c.GetInt(60000, "vox_call_session_grace_ms", c.Flags("--call-session-grace-ms"), "how long terminal call sessions linger for late duplicate messages"),
	CONN_OUTBOUND_QUEUE_LEN: c.GetInt(64, "vox_conn_outbound_queue_len", c.Flags("--conn-outbound-queue-len"), "buffered outbound frames per connection before drops"),

	IN_PROD: c.GetBool(false, "vox_in_prod", c.Flags("--prod"), "for production"),
}

var lck = sync.Mutex{}
var parsed = false

func GetConf() *ConfigVars {
	lck.Lock()
	defer lck.Unlock()

	if parsed {
		return &vars
	}

	parsed = true

	if c.ParseBool(os.Getenv("vox_help")) || (len(c.FlagsMap["--help"]) > 0 && c.ParseBoolOptimistic(c.FlagsMap["--help"])) {
		c.PrintHelp()
		os.Exit(1)
	}

	vxl.Stdout.Info(
		vxl.Id("vid/93e0c57a1fb4"),
		"Starting voxcord realtime service, for help use --help flag or vox_help=true env var.",
	)

	// computed properties
	vars.API_SERVER_ADDRESS = fmt.Sprintf("%s:%v", vars.API_SERVER_HOST, vars.API_SERVER_PORT)
	vars.API_WSS_ADDRESS = fmt.Sprintf("%s:%v", vars.API_WSS_HOST, vars.API_WSS_PORT)
	vars.REDIS_ADDRESS = fmt.Sprintf("%s:%v", vars.REDIS_HOST, vars.REDIS_PORT)

	vars.MONGO_DB_FULL_URL = fmt.Sprintf("%s://%s:%v/%s",
		vars.MONGO_PROTOCOL,
		vars.MONGO_HOST,
		vars.MONGO_PORT,
		vars.MONGO_DB_NAME,
	)

	fmt.Println(au.Col.Bold("voxcord realtime config:"))
	fmt.Printf("  proc-uuid = %s\n", au.Col.Green(ProcUUID.String()))
	fmt.Printf("  api = %s, wss = %s\n", au.Col.Yellow(vars.API_SERVER_ADDRESS), au.Col.Yellow(vars.API_WSS_ADDRESS))
	fmt.Printf("  mongo = %s, redis = %s\n", au.Col.Yellow(vars.MONGO_DB_FULL_URL), au.Col.Yellow(vars.REDIS_ADDRESS))
	fmt.Printf("  presence-debounce = %s, ring-timeout = %s, session-grace = %s\n",
		au.Col.Blue(vars.PresenceDebounce().String()),
		au.Col.Blue(vars.CallRingTimeout().String()),
		au.Col.Blue(vars.CallSessionGrace().String()),
	)

	return &vars
}

func (c *ConfigVars) PresenceDebounce() time.Duration {
	return time.Duration(c.PRESENCE_DEBOUNCE_MS) * time.Millisecond
}

func (c *ConfigVars) PresenceMirrorTTL() time.Duration {
	return time.Duration(c.PRESENCE_MIRROR_TTL_MS) * time.Millisecond
}

func (c *ConfigVars) CallRingTimeout() time.Duration {
	return time.Duration(c.CALL_RING_TIMEOUT_MS) * time.Millisecond
}

func (c *ConfigVars) CallSessionGrace() time.Duration {
	return time.Duration(c.CALL_SESSION_GRACE_MS) * time.Millisecond
}
