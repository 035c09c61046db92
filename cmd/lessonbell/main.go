package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lessonbell/internal/app"
	"lessonbell/internal/display"
	"lessonbell/pkg/logx"
)

func main() {
	var (
		cfgPath   string
		openURI   string
		lifecycle string
		token     string
		userID    string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.StringVar(&openURI, "open", "", "deep link to open at start (cold start)")
	flag.StringVar(&lifecycle, "lifecycle", "foreground", "foreground, background or inactive")
	flag.StringVar(&token, "token", "", "log in with this token at start")
	flag.StringVar(&userID, "user", "", "user id for -token")
	flag.Parse()

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "main"))

	lc, err := display.ParseLifecycle(lifecycle)
	if err != nil {
		bootLog.Error("bad -lifecycle", logx.Err(err))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := newJSONLines(os.Stdout)
	nav := newHeadlessNavigator(out)
	pres := newAutoPresenter(out)

	a, err := app.New(cfgPath, app.Host{
		Navigator: nav,
		Presenter: pres,
		Poster:    out.poster(),
	})
	if err != nil {
		bootLog.Error("init failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	pres.dismiss = a.Dismiss
	a.SetLifecycle(lc)

	if err := a.Start(ctx); err != nil {
		bootLog.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	if token != "" {
		profile, _ := json.Marshal(map[string]string{"id": userID})
		if err := a.Login(ctx, token, userID, profile); err != nil {
			bootLog.Warn("login failed", logx.Err(err))
		}
	}
	if openURI != "" {
		if _, err := a.OpenURI(ctx, openURI); err != nil {
			bootLog.Warn("open failed", logx.String("uri", openURI), logx.Err(err))
		}
	}

	reason := app.StopSIGINT
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
		if err := a.Err(); err != nil {
			bootLog.Error("fatal", logx.Err(err))
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		os.Exit(1)
	}
}
