package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/teamtalk/internal/config"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/startup"
)

func main() {
	logger.SetPrefix("notify")
	logger.Info("starting notify worker")
	cfg := config.Load()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer bootCancel()

	rdb, err := startup.ConnectRedisWithRetry(bootCtx, cfg.Redis.URL)
	if err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}
	defer rdb.Close()

	conn, err := startup.ConnectAMQPWithRetry(bootCtx, cfg.AMQP.URL)
	if err != nil {
		logger.Errorf("amqp: %v", err)
		os.Exit(1)
	}
	defer conn.Close()

	push := notify.NewPushSender(rdb,
		cfg.WebPush.VAPIDPublicKey, cfg.WebPush.VAPIDPrivateKey, cfg.WebPush.Subscriber)
	email := notify.NewEmailSender(rdb, cfg.SMTP)

	worker, err := notify.NewWorker(conn, cfg.AMQP.Queue, push, email)
	if err != nil {
		logger.Errorf("worker: %v", err)
		os.Exit(1)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Errorf("worker stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}
