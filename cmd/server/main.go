package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"objectstore/internal/api"
	"objectstore/internal/config"
	"objectstore/internal/logging"
	"objectstore/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := service.CreateFromConfig(cfg.Viper(), config.StorageKey, logger, cfg.BasePath)
	if err != nil {
		logger.Fatal("创建存储服务失败", zap.Error(err))
	}

	handler := api.NewObjectHandler(store, cfg.MaxObjectSize, logger)
	router := api.NewRouter(cfg, handler, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 10 * time.Second,
		// 大对象上传需要较长的读写时间
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		Handler:      router,
	}

	logger.Info("服务监听端口",
		zap.String("addr", srv.Addr),
		zap.String("backend", store.Type()),
		zap.String("bucket", store.Bucket()),
		zap.Bool("read_only", store.ReadOnly()),
		zap.Bool("auth_enabled", cfg.AuthEnabled),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("监听失败", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("优雅关闭失败", zap.Error(err))
	}

	logger.Info("服务已停止")
}
