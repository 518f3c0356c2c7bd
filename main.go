package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sigil/pkg/agent"
	"sigil/pkg/config"
	"sigil/pkg/filter"
	"sigil/pkg/llm"
	_ "sigil/pkg/llm/gemini"   // 自動註冊 LLM Providers
	_ "sigil/pkg/llm/ollama"   // 自動註冊 LLM Providers
	_ "sigil/pkg/llm/openailm" // 自動註冊 LLM Providers
	"sigil/pkg/monitor"
	"sigil/pkg/store"
	"sigil/pkg/tools"
	"sigil/pkg/transport"
)

func main() {
	monitor.PrintBanner()

	// --- 0. 讀取設定檔 ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v\n", err)
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- 1. 儲存層 ---
	cold, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("❌ Failed to open database: %v\n", err)
	}

	var warm store.Cache
	if cfg.Storage.RedisAddr != "" {
		rc, err := store.NewRedisCache(ctx, cfg.Storage.RedisAddr)
		if err != nil {
			slog.Warn("Redis unavailable, running without warm cache", "addr", cfg.Storage.RedisAddr, "error", err)
		} else {
			warm = rc
		}
	}

	contextStore, err := store.New(sysCfg.HotCacheSize, warm, cold)
	if err != nil {
		log.Fatalf("❌ Failed to init context store: %v\n", err)
	}

	// --- 2. LLM 設定 ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		log.Fatalf("❌ Failed to init LLM client: %v\n", err)
	}

	// --- 3. 工具註冊 ---
	registry := tools.NewRegistry()
	searchClient := &http.Client{Timeout: time.Duration(sysCfg.SearchTimeoutMs) * time.Millisecond}
	for _, d := range []tools.Descriptor{
		tools.NewPingTool(),
		tools.NewTaskTool(),
		tools.NewConfigTool(),
		tools.NewNoteTool(),
		tools.NewContextTool(contextStore),
		tools.NewSearchTool(searchClient, ""),
	} {
		if err := registry.Register(d); err != nil {
			log.Fatalf("❌ Failed to register tool: %v\n", err)
		}
	}
	if err := registry.Register(tools.NewHelpTool(registry)); err != nil {
		log.Fatalf("❌ Failed to register tool: %v\n", err)
	}

	// --- 4. Engine 與 Worker Pool ---
	selfSent := filter.NewSelfSentSet()
	sysRef := config.NewSystemConfigRef(sysCfg)
	engine := agent.New(client, registry, contextStore, selfSent, cfg, sysRef)
	signalClient := transport.New(cfg.Signal)

	var mon monitor.Monitor
	if sysCfg.EnableMonitor {
		cli := monitor.NewCLIMonitor()
		if err := cli.Start(); err != nil {
			slog.Warn("CLI monitor failed to start", "error", err)
		} else {
			mon = cli
		}
	}

	pool := agent.NewPool(engine, signalClient, mon, sysCfg.Workers, sysCfg.QueueSize)
	pool.Start(ctx)

	// --- 5. 設定熱載入 ---
	config.Watch(ctx, func() {
		next := config.LoadSystemConfig("system.json")
		sysRef.Store(next)
		monitor.SetupSlog(next.LogLevel)
		slog.Info("System configuration reloaded")
	}, "system.json")

	// --- 6. 接收迴圈 ---
	inbound := filter.New(cfg.Signal.Number, selfSent)
	raw := make(chan []byte, sysCfg.QueueSize)
	listenCtx, stopListen := context.WithCancel(ctx)
	go signalClient.Listen(listenCtx, raw)
	go func() {
		for msg := range raw {
			in, ok := inbound.Classify(ctx, msg)
			if !ok {
				continue
			}
			if !pool.Enqueue(in) {
				slog.Warn("Message queue full, dropping message", "chat_id", in.ConversationKey())
			}
		}
	}()

	// 監聽系統信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("\nReceived shutdown signal. Stopping services...")

	// Stop intake first, then drain the pool while the process context
	// is still live so in-flight saves reach the durable tier.
	stopListen()
	pool.Stop()
	cancel()
	if mon != nil {
		_ = mon.Stop()
	}
	if err := contextStore.Close(); err != nil {
		slog.Error("Failed to close context store", "error", err)
	}
	log.Println("Bye!")
}
