package main


import (
//  "flag"
   flag "github.com/spf13/pflag"
  "github.com/fhs/gompd/v2/mpd"
  "errors"
  "fmt"
  "io"
  "log"
  "net"
  "os"
  "path/filepath"
  "strconv"
  "strings"
  "time"
)

// mpdgoadd appends the currently playing song to a stored MPD playlist.
// One invocation, one append attempt, then exit.

const (
  defaultMPDhost = "localhost"
  defaultMPDport = 6600
  defaultTimeout = 3 * time.Second

  // MPD's documented failure responses, printed alongside connect errors
  failureRef = "https://mpd.readthedocs.io/en/latest/protocol.html#failure-responses"

  exitOK    = 0
  exitUsage = 1
  exitErr   = 2
) // const


var (
  version = "dev"

  verbose bool
)

// errBadPassword marks a rejected password so it is reported separately
// from a connection failure
var errBadPassword = errors.New("bad password")


// settings holds the resolved MPD connection parameters
type settings struct {
  mpdHost   string
  mpdPort   int
  mpdSocket string
  mpdPass   string
  timeout   time.Duration
} // type settings struct

// flagVals holds the raw CLI flag values before resolution
type flagVals struct {
  host    string
  port    int
  socket  string
  pass    string
  timeout time.Duration
}

type mpdEnv struct {
  mpdHost   string
  mpdPort   int
  mpdSocket string
  mpdPass   string
}

type configFile struct {
  path         string
  data         string
  exists       bool
} // type configFile struct


// parseMPDEnv reads MPD_HOST/MPD_PORT into an mpdEnv
func parseMPDEnv() mpdEnv {
  var env mpdEnv

  // MPD_HOST parsing
  if v := os.Getenv("MPD_HOST"); v != "" {
    // 1. abstract socket with no password
    if strings.HasPrefix(v, "@") {
      env.mpdSocket = v
    } else if strings.Contains(v, "@@") { // 2. password@@abstract
      parts := strings.SplitN(v, "@@", 2)
      env.mpdPass = parts[0]
      env.mpdSocket = "@" + parts[1] // preserve leading @
    } else if strings.Contains(v, "@") { // 3. password@tcp or password@concrete socket
      parts := strings.SplitN(v, "@", 2)
      env.mpdPass = parts[0]
      addr := parts[1]
      if strings.Contains(addr, "/") {
        env.mpdSocket = addr
        if ! strings.HasPrefix(addr, "/") {
          log.Printf("[parseMPDEnv] env.mpdSocket assumed to be relative path: %s\n", env.mpdSocket)
        }
      } else {
        env.mpdHost = addr
      }
    } else { // 4. tcp host or concrete socket without password
      if strings.Contains(v, "/") {
        env.mpdSocket = v
        if ! strings.HasPrefix(v, "/") {
          log.Printf("[parseMPDEnv] env.mpdSocket assumed to be relative path: %s\n", v)
        }
      } else {
        env.mpdHost = v
      }
    }
  }

  // MPD_PORT environment
  // Unparseable values are ignored and the default port is used instead.
  if p := os.Getenv("MPD_PORT"); p != "" {
    if n, err := strconv.Atoi(p); err == nil && n > 0 {
      env.mpdPort = n
    } else if verbose {
      log.Printf("[parseMPDEnv] ignoring unusable MPD_PORT: %q\n", p)
    }
  }

  return env
} // func parseMPDEnv() mpdEnv


// loadConfig loads the config file from a given path or defaults to ~/.config/mpdgoadd.conf
func loadConfig(cliPath string) configFile {
  var path string

  if cliPath != "" {
    path = cliPath
  } else {
    home, err := os.UserHomeDir()
    if err != nil {
      return configFile{}
    }
    path = filepath.Join(home, ".config", "mpdgoadd.conf")
  }

  cf := configFile{path: path}

  data, err := os.ReadFile(path)
  if err != nil {
    return cf
  }

  cf.exists = true
  cf.data = string(data)
  return cf
} // func loadConfig(cliPath string) configFile {


// dumpConfig prints the config path and optionally its contents if verbose
func dumpConfig(cf configFile) {
  fmt.Fprintf(os.Stderr, "config path: %s\n", cf.path)

  if !cf.exists {
    fmt.Fprintln(os.Stderr, "config file: not found")
    return
  }

  if verbose {
    fmt.Fprintln(os.Stderr, "config contents:")
    fmt.Fprintln(os.Stderr, "-----")
    fmt.Fprint(os.Stderr, cf.data)
    if !strings.HasSuffix(cf.data, "\n") {
      fmt.Fprintln(os.Stderr)
    }
    fmt.Fprintln(os.Stderr, "-----")
  }
} // func dumpConfig(cf configFile) {


// parseConfig parses key=value lines from a string into a map
func parseConfig(data string) map[string]string {
  cfg := make(map[string]string)

  for _, line := range strings.Split(data, "\n") {
    line = strings.TrimSpace(line)
    if line == "" || strings.HasPrefix(line, "#") {
      continue
    }

    k, v, ok := strings.Cut(line, "=")
    if !ok {
      continue
    }

    k = strings.TrimSpace(k)
    v = strings.TrimSpace(v)

    if k != "" {
      cfg[k] = v
    }
  }
  return cfg
} // func parseConfig(data string) map[string]string


// resolve applies config values with precedence: CLI > config > environment > default.
// Settings are resolved once, before any network activity.
func resolve(fl flagVals, kv map[string]string, env mpdEnv) settings {
  s := settings{
    mpdHost: defaultMPDhost,
    mpdPort: defaultMPDport,
    timeout: defaultTimeout,
  }

  if fl.host != "" {
    s.mpdHost = fl.host
  } else if v, ok := kv["mpdhost"]; ok && v != "" {
    s.mpdHost = v
  } else if env.mpdHost != "" {
    s.mpdHost = env.mpdHost
  }

  if fl.port != 0 {
    s.mpdPort = fl.port
  } else if v, ok := kv["mpdport"]; ok && v != "" {
    if n, err := strconv.Atoi(v); err == nil && n > 0 {
      s.mpdPort = n
    }
  } else if env.mpdPort != 0 {
    s.mpdPort = env.mpdPort
  }

  if fl.socket != "" {
    s.mpdSocket = fl.socket
  } else if v, ok := kv["mpdsocket"]; ok && v != "" {
    s.mpdSocket = v
  } else if env.mpdSocket != "" {
    s.mpdSocket = env.mpdSocket
  }

  if fl.pass != "" {
    s.mpdPass = fl.pass
  } else if v, ok := kv["mpdpass"]; ok && v != "" {
    s.mpdPass = v
  } else if env.mpdPass != "" {
    s.mpdPass = env.mpdPass
  }

  if fl.timeout > 0 {
    s.timeout = fl.timeout
  } else if v, ok := kv["timeout"]; ok && v != "" {
    if d, err := time.ParseDuration(v); err == nil && d > 0 {
      s.timeout = d
    }
  }

  return s
} // func resolve(fl flagVals, kv map[string]string, env mpdEnv) settings


// mpdDo runs one MPD call against an open client with a deadline so a
// stalled daemon cannot hang the invocation
func mpdDo(c *mpd.Client, timeout time.Duration, fn func(*mpd.Client) error, ctx string) error {
  done := make(chan error, 1)
  go func() {
    done <- fn(c)
  }()

  select {
  case err := <-done:
    return err
  case <-time.After(timeout):
    // The abandoned call keeps running on c until the caller closes the
    // client or the process exits.
    return fmt.Errorf("mpd: timeout (%s)", ctx)
  }
} // func mpdDo(fn func(*mpd.Client) error, ctx string) error


// conn opens an MPD session (UNIX socket or TCP) and authenticates if a
// password is configured. On failure the half-open session is closed
// before returning; on success ownership passes to the caller.
func conn(s settings) (*mpd.Client, error) {
  network := "tcp"
  addr := net.JoinHostPort(s.mpdHost, strconv.Itoa(s.mpdPort))
  if s.mpdSocket != "" {
    network = "unix"
    addr = s.mpdSocket
  }

  // mpd.Dial has no timeout of its own; probe reachability first so an
  // unreachable daemon fails within the configured deadline.
  probe, err := net.DialTimeout(network, addr, s.timeout)
  if err != nil {
    return nil, err
  }
  probe.Close()

  c, err := mpd.Dial(network, addr)
  if err != nil {
    return nil, err
  }
  if verbose { log.Printf("[conn] connected to %s (%s), mpd protocol %s", addr, network, c.Version()) }

  if s.mpdPass != "" {
    err := mpdDo(c, s.timeout, func(c *mpd.Client) error {
      return c.Command("password %s", s.mpdPass).OK()
    }, "password")
    if err != nil {
      if verbose { log.Printf("[conn] password rejected: %v", err) }
      c.Close()
      return nil, errBadPassword
    }
  }

  return c, nil
} // func conn(s settings) (*mpd.Client, error)


// addCurrent appends the currently playing track's URI to the named stored
// playlist and reports the outcome on out. The session stays owned by the
// caller.
func addCurrent(c *mpd.Client, playlist string, timeout time.Duration, out io.Writer) int {
  var song mpd.Attrs
  err := mpdDo(c, timeout, func(c *mpd.Client) error {
    var err error
    song, err = c.CurrentSong()
    return err
  }, "CurrentSong")

  // A failed query and an empty attribute set both mean there is nothing
  // to append.
  if err != nil || song["file"] == "" {
    if err != nil && verbose {
      log.Printf("[addCurrent] currentsong failed: %v", err)
    }
    fmt.Fprintln(out, "No song is currently playing")
    return exitErr
  }

  uri := song["file"]
  if verbose { log.Printf("[addCurrent] currently playing: %s", uri) }

  err = mpdDo(c, timeout, func(c *mpd.Client) error {
    return c.PlaylistAdd(playlist, uri)
  }, "PlaylistAdd")
  if err != nil {
    if verbose { log.Printf("[addCurrent] playlistadd failed: %v", err) }
    fmt.Fprintln(out, "Some error")
    return exitErr
  }

  fmt.Fprintf(out, "Added %s to playlist %s\n", uri, playlist)
  return exitOK
} // func addCurrent()


// run parses flags, resolves settings, and performs one append attempt.
// Returns the process exit code.
func run(args []string, out io.Writer) int {
  fs := flag.NewFlagSet("mpdgoadd", flag.ContinueOnError)

  var (
    fl          flagVals
    configFlag  string
    showVersion bool
  )

  fs.StringVar(&fl.host, "mpdhost", "", "MPD host <address>")
  fs.IntVar(&fl.port, "mpdport", 0, "MPD host <port>")
  fs.StringVar(&fl.socket, "mpdsocket", "", "MPD unix socket <path>")
  fs.StringVar(&fl.pass, "mpdpass", "", "MPD server password")
  fs.DurationVar(&fl.timeout, "timeout", 0, "Per-call timeout (default 3s)")
  fs.StringVar(&configFlag, "config", "", "path to config file")
  fs.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
  fs.BoolVar(&showVersion, "version", false, "Print version and exit")

  if err := fs.Parse(args); err != nil {
    if errors.Is(err, flag.ErrHelp) {
      return exitOK
    }
    return exitUsage
  }

  if showVersion {
    fmt.Fprintf(out, "\nmpdgoadd binary version %s\n\n", version)
    return exitOK
  }

  // Check for playlist name argument before touching the network
  if fs.NArg() < 1 {
    fmt.Fprintln(out, "Usage: mpdgoadd PLAYLIST_NAME")
    return exitUsage
  }
  playlist := fs.Arg(0)

  cfg := loadConfig(configFlag)
  if verbose {
    dumpConfig(cfg)
  }
  kv := parseConfig(cfg.data)

  s := resolve(fl, kv, parseMPDEnv())

  if verbose {
    log.Printf("[run] using playlist: %s", playlist)
    if s.mpdSocket != "" {
      log.Printf("[run] connecting to socket %s", s.mpdSocket)
    } else {
      log.Printf("[run] connecting to %s:%d", s.mpdHost, s.mpdPort)
    }
  }

  c, err := conn(s)
  if err != nil {
    if errors.Is(err, errBadPassword) {
      fmt.Fprintln(out, "Bad password")
    } else {
      fmt.Fprintf(out, "Error: %v. View failure responses here: %s\n", err, failureRef)
    }
    return exitErr
  }
  defer c.Close()

  return addCurrent(c, playlist, s.timeout, out)
} // func run(args []string, out io.Writer) int


func main() {
  os.Exit(run(os.Args[1:], os.Stdout))
} // func main()
// End of mpdgoadd
