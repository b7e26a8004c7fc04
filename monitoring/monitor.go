// Package monitoring turns a running simulation into a web server so that
// the caches can be inspected and controlled from outside.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sarchlab/mmusim/logging"
	"github.com/sarchlab/mmusim/mem/cache"
	"github.com/sarchlab/mmusim/monitoring/web"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
	"go.uber.org/zap"
)

// Monitor serves the state of the registered caches over HTTP.
type Monitor struct {
	logger     *logging.Logger
	portNumber int
	registry   *prometheus.Registry
	metrics    *Metrics

	lock   sync.Mutex
	caches []*cache.Cache
	server *http.Server

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor with its own Prometheus registry.
func NewMonitor(logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Monitor{
		logger:   logger.Named("monitor"),
		registry: registry,
		metrics:  NewMetrics(registry),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// not allowed and are replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn("port not allowed, using a random port instead",
			zap.Int("port", portNumber))

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterCache registers a cache to be monitored. The monitor's metrics
// hook is attached to the cache and to its store.
func (m *Monitor) RegisterCache(c *cache.Cache) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, existing := range m.caches {
		if existing.Name() == c.Name() {
			panic(fmt.Sprintf("cache %s already registered", c.Name()))
		}
	}

	m.caches = append(m.caches, c)
	c.AcceptHook(m.metrics)

	if !hasHook(c.Store().Hooks(), m.metrics) {
		c.Store().AcceptHook(m.metrics)
	}
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list of shown bars.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitor API and web page.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_caches", m.listCaches).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/{name}", m.stats).Methods(http.MethodGet)
	r.HandleFunc("/api/lines/{name}", m.lines).Methods(http.MethodGet)
	r.HandleFunc("/api/cache/{name}", m.cacheDetails).Methods(http.MethodGet)
	r.HandleFunc("/api/field/{json}", m.fieldValue).Methods(http.MethodGet)
	r.HandleFunc("/api/flush/{name}", m.flush).Methods(http.MethodPost)
	r.HandleFunc("/api/reset_stats/{name}", m.resetStats).
		Methods(http.MethodPost)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.Handle("/metrics",
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.PathPrefix("/").
		MatcherFunc(notAPI).
		Handler(http.FileServer(web.GetAssets()))

	return r
}

// notAPI keeps the web page route from answering API paths, so that a
// method mismatch on an API route is reported as 405.
func notAPI(r *http.Request, _ *mux.RouteMatch) bool {
	return !strings.HasPrefix(r.URL.Path, "/api/")
}

// StartServer starts serving in the background and returns the URL of the
// monitor.
func (m *Monitor) StartServer() (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.server != nil {
		return "", errors.New("monitor already started")
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("failed to start monitor: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(server *http.Server) {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor stopped", zap.Error(err))
		}
	}(m.server)

	m.logger.Info("monitoring simulation", zap.String("url", url))

	return url, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.lock.Lock()
	server := m.server
	m.server = nil
	m.lock.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (m *Monitor) listCaches(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	names := make([]string, 0, len(m.caches))
	for _, c := range m.caches {
		names = append(names, c.Name())
	}
	m.lock.Unlock()

	m.writeJSON(w, names)
}

type statsRsp struct {
	cache.Statistics
	HitRate float64 `json:"hit_rate"`
}

func (m *Monitor) stats(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	stats := c.Stats()
	m.writeJSON(w, statsRsp{Statistics: stats, HitRate: stats.HitRate()})
}

type linesRsp struct {
	Lines    []cache.Line `json:"lines"`
	LRUQueue []int        `json:"lru_queue"`
}

func (m *Monitor) lines(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	snap := c.Snapshot()
	m.writeJSON(w, linesRsp{Lines: snap.Lines, LRUQueue: snap.LRUQueue})
}

// cacheState is a copy of a cache that can be walked by the serializer
// without holding the cache lock.
type cacheState struct {
	Name      string
	NumLines  int
	StoreSize uint64
	Stats     cache.Statistics
	Lines     []cache.Line
	LRUQueue  []int
}

func snapshot(c *cache.Cache) *cacheState {
	snap := c.Snapshot()

	return &cacheState{
		Name:      snap.Name,
		NumLines:  c.NumLines(),
		StoreSize: c.Store().Size(),
		Stats:     snap.Stats,
		Lines:     snap.Lines,
		LRUQueue:  snap.LRUQueue,
	}
}

func (m *Monitor) cacheDetails(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot(c))
	serializer.SetMaxDepth(2)

	m.serialize(w, serializer.Serialize)
}

type fieldReq struct {
	CacheName string `json:"cache_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) fieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := m.findCacheOr404(w, req.CacheName)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(snapshot(c))
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.serialize(w, serializer.Serialize)
}

func (m *Monitor) flush(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	if err := c.Flush(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.logger.Info("cache flushed", zap.String("cache", c.Name()))

	stats := c.Stats()
	m.writeJSON(w, statsRsp{Statistics: stats, HitRate: stats.HitRate()})
}

func (m *Monitor) resetStats(w http.ResponseWriter, r *http.Request) {
	c := m.findCacheOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	c.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) findCacheOr404(
	w http.ResponseWriter,
	name string,
) *cache.Cache {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, c := range m.caches {
		if c.Name() == name {
			return c
		}
	}

	http.Error(w, "Cache not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarState, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.state())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.fail(w, err)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

// collectProfile samples the CPU for the duration given by the "duration"
// query parameter (default 1s) and returns the parsed profile.
func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second

	if d := r.URL.Query().Get("duration"); d != "" {
		parsed, err := time.ParseDuration(d)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid duration "+d, http.StatusBadRequest)
			return
		}

		duration = parsed
	}

	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) serialize(
	w http.ResponseWriter,
	serialize func(io.Writer) error,
) {
	buf := bytes.NewBuffer(nil)

	if err := serialize(buf); err != nil {
		m.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(buf.Bytes()); err != nil {
		m.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		m.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (m *Monitor) fail(w http.ResponseWriter, err error) {
	m.logger.Error("request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
