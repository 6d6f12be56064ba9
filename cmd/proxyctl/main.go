// Command proxyctl starts one supervised proxy instance from flags
// and ambient environment defaults: it binds a listener, probes the
// instance's egress IP, and blocks until interrupted.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/synthbox/capture-proxy/internal/config"
	"github.com/synthbox/capture-proxy/internal/engineconfig"
	"github.com/synthbox/capture-proxy/internal/events"
	applog "github.com/synthbox/capture-proxy/internal/log"
	"github.com/synthbox/capture-proxy/internal/stats"
	"github.com/synthbox/capture-proxy/internal/supervisor"
)

func main() {
	listenPort := flag.Int("port", 0, "listen port (0 = auto-select in [30000,40000])")
	listenHost := flag.String("host", "", "listen host (default from PROXY_LISTEN_HOST)")
	upstream := flag.String("proxy", "", "upstream proxy as host:port or host:port:user:pass")
	instanceID := flag.String("id", "instance-1", "instance identifier used in logs and events")
	flag.Parse()

	defaults := config.Load()

	cfg := engineconfig.Config{
		CacheDir:        defaults.CacheDir,
		CacheTTLSeconds: defaults.CacheTTLSeconds,
		Instance: engineconfig.InstanceConfig{
			ListenHost: defaults.DefaultListenHost,
			ListenPort: *listenPort,
		},
	}
	if *listenHost != "" {
		cfg.Instance.ListenHost = *listenHost
	}
	if *upstream != "" {
		creds, err := engineconfig.ParseProxyString(*upstream)
		if err != nil {
			log.Fatalf("proxyctl: %v", err)
		}
		cfg.Instance.Upstream = creds
	}

	sup := supervisor.New(defaults.CertsDir)
	global := stats.NewGlobal()

	emit := func(ev events.Event) {
		global.Observe(ev)
		switch ev.Kind {
		case events.KindStatusChanged:
			applog.Infof(ev.Status.InstanceID, "state -> %s %s", ev.Status.State, ev.Status.Reason)
		case events.KindInstanceIP:
			if ev.InstanceIP.Failed {
				applog.Warnf(ev.InstanceIP.InstanceID, "egress ip probe failed")
			} else {
				applog.Infof(ev.InstanceIP.InstanceID, "egress ip: %s", ev.InstanceIP.IP)
			}
		case events.KindTrafficUpdate:
			up, upSaved, down, downSaved := global.Totals()
			applog.Debugf(ev.Traffic.InstanceID, "up=%s(saved %s) down=%s(saved %s) total up=%s down=%s",
				stats.FormatBytes(ev.Traffic.UploadBytes), stats.FormatBytes(ev.Traffic.UploadSaved),
				stats.FormatBytes(ev.Traffic.DownloadBytes), stats.FormatBytes(ev.Traffic.DownloadSaved),
				stats.FormatBytes(up+upSaved), stats.FormatBytes(down+downSaved))
		case events.KindNotification:
			applog.Infof(ev.Notify.InstanceID, "notification %q: %s", ev.Notify.Title, ev.Notify.Body)
		case events.KindLogMessage:
			applog.Emit(ev.Log.Level, ev.Log.InstanceID, ev.Log.Line)
		}
	}

	if _, err := sup.Start(*instanceID, cfg, emit); err != nil {
		log.Fatalf("proxyctl: failed to start %s: %v", *instanceID, err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc

	if err := sup.Stop(*instanceID); err != nil {
		log.Fatalf("proxyctl: failed to stop %s: %v", *instanceID, err)
	}
}
