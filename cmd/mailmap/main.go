// The mailmap command watches IMAP folders and classifies new mail into
// them with a local language model.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jbroll/mailmap/internal/app"
	"github.com/jbroll/mailmap/internal/config"
	"github.com/jbroll/mailmap/internal/credential"
	"github.com/jbroll/mailmap/internal/logger"
)

var (
	flagConfig      = flag.String("config", "", "path to config file (default ~/.config/mailmap/config.toml)")
	flagDebug       = flag.Bool("debug", false, "enable debug logging")
	flagInitFolders = flag.Bool("init-folders", false, "rebuild the folder taxonomy from a mailbox sample and exit")
	flagSyncFolders = flag.Bool("sync-folders", false, "sync the folder table from the server and exit")
	flagListFolders = flag.Bool("list-folders", false, "print known folders and exit")
)

func run() error {
	path := *flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Password resolution order: config file, environment, system keyring.
	if cfg.IMAP.Password == "" {
		if secret, err := credential.Get(credential.KeyIMAPPassword); err == nil {
			cfg.IMAP.Password = secret
		}
	}

	zl, err := logger.New(*flagDebug)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case *flagListFolders:
		return listFolders(ctx, a)
	case *flagInitFolders:
		return initFolders(ctx, a)
	case *flagSyncFolders:
		return syncFolders(ctx, a)
	}

	return a.Run(ctx)
}

func listFolders(ctx context.Context, a *app.App) error {
	folders, err := a.Store().Folders(ctx)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		fmt.Println("no folders known yet; run with -sync-folders or -init-folders first")
		return nil
	}
	for _, f := range folders {
		fmt.Printf("%-30s %s\n", f.Name, f.Description)
	}
	return nil
}

func initFolders(ctx context.Context, a *app.App) error {
	session, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	folders, err := a.InitFolders(ctx, session)
	if err != nil {
		return err
	}
	for _, f := range folders {
		fmt.Printf("%-30s %s\n", f.Name, f.Description)
	}
	return nil
}

func syncFolders(ctx context.Context, a *app.App) error {
	session, err := a.Dial(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := a.SyncFolders(ctx, session); err != nil {
		return err
	}
	return a.DescribeFolders(ctx, session)
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Fatalf("mailmap: %v", err)
	}
}
