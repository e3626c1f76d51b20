package xhttp

import (
	"os"
	"os/signal"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

// env list:
// xhttp_SERVER_READ_TIMEOUT (ms)
// xhttp_SERVER_WRITE_TIMEOUT (ms)
// xhttp_SERVER_READ_BUFFER_BYTE
// xhttp_SERVER_WRITE_BUFFER_BYTE

var (
	defaultReadBufferSize  = 1024 * 4
	defaultWriteBufferSize = 1024 * 4
	defaultReadTimeout     = time.Millisecond * 5000
	defaultWriteTimeout    = time.Millisecond * 5000
)

func init() {
	defaultReadTimeout = envMillis("xhttp_SERVER_READ_TIMEOUT", defaultReadTimeout)
	defaultWriteTimeout = envMillis("xhttp_SERVER_WRITE_TIMEOUT", defaultWriteTimeout)
	defaultReadBufferSize = envBytes("xhttp_SERVER_READ_BUFFER_BYTE", defaultReadBufferSize)
	defaultWriteBufferSize = envBytes("xhttp_SERVER_WRITE_BUFFER_BYTE", defaultWriteBufferSize)
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return time.Millisecond * time.Duration(v)
	}
	return fallback
}

func envBytes(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 1024 {
		return v
	}
	return fallback
}

// DefaultServerOption is tuned for a JSON api behind a load balancer.
// Webhook bodies are small, 1MB is plenty.
var DefaultServerOption = ServerOption{
	IdleTimeout:                   time.Second * 10,
	MaxIdleWorkerDuration:         time.Minute,
	TCPKeepalivePeriod:            time.Minute * 120, // linux default
	MaxRequestBodySize:            1024 * 1024,
	ReadBufferSize:                defaultReadBufferSize, // also, max header size
	WriteBufferSize:               defaultWriteBufferSize,
	ReadTimeout:                   defaultReadTimeout,
	WriteTimeout:                  defaultWriteTimeout,
	Concurrency:                   10_000,
	MaxConnsPerIP:                 1_000,
	TCPKeepalive:                  true,
	DisablePreParseMultipartForm:  true,
	NoDefaultServerHeader:         true,
	NoDefaultContentType:          true,
	CloseOnShutdown:               true,
	DisableHeaderNamesNormalizing: false,
}

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout time.Duration

	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration
	MaxRequestBodySize    int
	ReadBufferSize        int
	WriteBufferSize       int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	Concurrency           int
	MaxConnsPerIP         int

	TCPKeepalive                  bool
	DisablePreParseMultipartForm  bool
	NoDefaultServerHeader         bool
	NoDefaultContentType          bool
	CloseOnShutdown               bool
	DisableHeaderNamesNormalizing bool
}

type Engine struct {
	*Router
	*Server
	option ServerOption
	middle []MiddlewareFunc
}

func newServer(options ServerOption, log logger.Logger) *fasthttp.Server {
	return &fasthttp.Server{
		Name:                          options.Name,
		Concurrency:                   options.Concurrency,
		ReadBufferSize:                options.ReadBufferSize,
		WriteBufferSize:               options.WriteBufferSize,
		ReadTimeout:                   options.ReadTimeout,
		WriteTimeout:                  options.WriteTimeout,
		IdleTimeout:                   options.IdleTimeout,
		MaxConnsPerIP:                 options.MaxConnsPerIP,
		MaxIdleWorkerDuration:         options.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:            options.TCPKeepalivePeriod,
		MaxRequestBodySize:            options.MaxRequestBodySize,
		TCPKeepalive:                  options.TCPKeepalive,
		DisablePreParseMultipartForm:  options.DisablePreParseMultipartForm,
		NoDefaultServerHeader:         options.NoDefaultServerHeader,
		NoDefaultContentType:          options.NoDefaultContentType,
		CloseOnShutdown:               options.CloseOnShutdown,
		DisableHeaderNamesNormalizing: options.DisableHeaderNamesNormalizing,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			log.Printf("[xhttp] error: %s", err)
		},
		Logger: log,
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options, logger.GetLogger()),
		Router: CreateDefaultRouter(),
		option: options,
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler wrapped by the registered middlewares.
// The first middleware passed to Use is the outermost one.
func (e *Engine) DoRouting() error {
	for method, route := range e.Router.List() {
		for _, r := range route {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}
	handler := e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for i, m := range middle {
		handler = m(handler)
		e.Server.Logger.Printf("[xhttp] middleware %d registered - %s", i+1, runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
	return nil
}

// WrappedHandler returns the routed handler with middlewares applied, for in-memory tests.
func (e *Engine) WrappedHandler() RequestHandler {
	_ = e.DoRouting()
	return e.Server.Handler
}

// Use adds middleware to the chain which is run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// CloseOnSignal shuts the server down on SIGINT/SIGTERM/SIGQUIT.
func (e *Engine) CloseOnSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		e.Shutdown()
	}()
}

// Shutdown gracefully shuts down the server without interrupting any active connections.
func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
