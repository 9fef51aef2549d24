package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nmxmxh/netshell/kernel/cache"
	"github.com/nmxmxh/netshell/kernel/server"
	"github.com/nmxmxh/netshell/kernel/utils"
)

const defaultToken = "/dev/shm/netshell.mmap"

func main() {
	inter := flag.String("i", "", "interface to listen on (default: all addresses)")
	port := flag.Int("p", server.DefaultPort, "listen port")
	memMB := flag.Uint64("m", 64, "max memory to use in megabytes")
	noEvict := flag.Bool("M", false, "return error on memory exhausted (rather than LRU)")
	minItem := flag.Uint64("n", 64, "minimum space allocated for key+value in bytes")
	factor := flag.Float64("f", 2, "chunk size growth factor")
	maxItem := flag.Uint64("I", 1024*1024, "max item size in bytes (min: 1k, max: 128m)")
	nbuckets := flag.Uint("b", 65536, "max buckets number, set as large as enough")
	token := flag.String("t", defaultToken, "mmap file")
	mode := flag.String("u", "0644", "token's mode")
	defaultCounter := flag.Bool("c", false, "use default counter")
	useFlock := flag.Bool("l", false, "use flock instead of the region lock")
	newMap := flag.Bool("a", false, "afresh new map, unlink old map first")
	daemonize := flag.Bool("d", false, "run as daemon")
	pidfile := flag.String("P", "", "save PID in file")
	flag.Parse()

	log := utils.DefaultLogger("netshell")

	if *maxItem < 1024 || *maxItem > 128*1024*1024 {
		fmt.Fprintln(os.Stderr, "invalid -I parameter")
		flag.Usage()
		os.Exit(1)
	}

	fileMode, err := strconv.ParseUint(*mode, 8, 32)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -u parameter")
		flag.Usage()
		os.Exit(1)
	}

	attr := cache.DefaultAttr()
	attr.MemLimit = *memMB * 1024 * 1024
	attr.NBuckets = uint32(*nbuckets)
	attr.Mode = uint32(fileMode)
	attr.ItemSizeMin = *minItem
	attr.ItemSizeMax = *maxItem
	attr.ItemSizeFactor = *factor
	attr.EvictToFree = !*noEvict
	attr.DefaultCounter = *defaultCounter
	attr.UseFlock = *useFlock

	if *daemonize {
		log.Warn("daemon mode is not supported, continuing in the foreground")
	}

	if *newMap {
		_ = os.Remove(*token)
	}

	c, err := cache.Create(*token, attr)
	if cache.Result(err) == cache.ECreate {
		// The region already exists: attach as a later process.
		c, err = cache.Attach(*token)
	}
	if err != nil {
		log.Error("can't init cache", utils.String("token", *token), utils.Err(err))
		os.Exit(1)
	}

	if *pidfile != "" {
		pid := []byte(strconv.Itoa(os.Getpid()))
		if werr := os.WriteFile(*pidfile, pid, 0o644); werr != nil {
			log.Warn("can't write pidfile", utils.String("path", *pidfile), utils.Err(werr))
		}
	}

	signal.Ignore(syscall.SIGPIPE)

	shell, err := server.NewShell(c, *port, *inter, log)
	if err != nil {
		log.Error("can't start netshell", utils.Err(err))
		_ = c.Destroy()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shell.Stop()
	}()

	shutdown := utils.NewShutdown(log)
	shutdown.Register("pidfile", func() error {
		if *pidfile != "" {
			return os.Remove(*pidfile)
		}
		return nil
	})
	shutdown.Register("region", c.Destroy)

	if err := shell.Run(); err != nil {
		log.Error("event loop failed", utils.Err(err))
	}
	shell.Close()

	if err := shutdown.Run(); err != nil {
		os.Exit(1)
	}
}
