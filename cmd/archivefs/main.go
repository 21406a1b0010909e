// Command archivefs mounts a directory tree, transparently expanding any
// ZIP or RAR archive it finds into a browsable subtree, at a given mount
// point.
//
// Usage:
//
//	archivefs [flags] <source-path> <mount-point>
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	log "github.com/sirupsen/logrus"

	"archivefs/pkg/archivefmt"
	"archivefs/pkg/archivefs"
	"archivefs/pkg/budget"
	"archivefs/pkg/fusebridge"
	"archivefs/pkg/pagepool"
	"archivefs/pkg/physical"
	"archivefs/pkg/vfs"
)

func main() {
	logger := log.New()
	if lvl, err := log.ParseLevel(os.Getenv("ARCHIVEFS_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(log.InfoLevel)
	}

	flagSet := flag.NewFlagSet("archivefs", flag.ExitOnError)
	cacheBytes := flagSet.Int64("cache-bytes", 0, "page cache memory budget in bytes (default 1 GiB)")
	allowOther := flagSet.Bool("allow-other", false, "allow other users to access the mount")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <source-path> <mount-point>\n", os.Args[0])
		flagSet.PrintDefaults()
	}
	flagSet.Parse(os.Args[1:])
	if flagSet.NArg() != 2 {
		flagSet.Usage()
		os.Exit(2)
	}
	sourcePath, mountPoint := flagSet.Arg(0), flagSet.Arg(1)

	info, err := os.Stat(sourcePath)
	if err != nil {
		logger.Fatalf("source path: %v", err)
	}

	bud := budget.New(*cacheBytes)
	maxPages := uint32((bud.Limit() + pagepool.PageSize - 1) / pagepool.PageSize)
	if maxPages == 0 {
		maxPages = 1
	}
	mgr := pagepool.NewManager(maxPages, bud)
	viewer := archivefs.NewViewer(mgr)

	var root vfs.Dir
	if info.IsDir() {
		root = physical.NewDir(sourcePath)
	} else {
		format := archivefmt.DetectFormat(sourcePath)
		if format == archivefmt.FormatUnknown {
			logger.Fatalf("source path %s is not a recognized archive", sourcePath)
		}
		root = archivefs.NewDir(physical.NewFile(sourcePath), format, mgr)
	}

	opts := &fs.Options{}
	opts.MountOptions.AllowOther = *allowOther
	opts.MountOptions.Debug = logger.IsLevelEnabled(log.DebugLevel)

	server, err := fusebridge.Mount(mountPoint, root, viewer, logger, opts)
	if err != nil {
		logger.Fatalf("mount %s: %v", mountPoint, err)
	}
	logger.WithFields(log.Fields{
		"source": sourcePath,
		"mount":  mountPoint,
		"pages":  maxPages,
	}).Info("mounted")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("unmounting")
		if err := server.Unmount(); err != nil {
			logger.Errorf("unmount: %v", err)
		}
	}()

	server.Wait()
}
