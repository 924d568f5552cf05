// Package config provides loading and environment overlay for logfan
// configuration. It exposes a Default() baseline that Load fills from a JSON
// or YAML file and FromEnv overlays with LOGFAN_* variables.
//
// Example:
//
//	_ = config.LoadDotEnv("")
//	cfg, err := config.Load("/etc/logfan.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(runtime.Options{DataDir: "/var/lib/logfan", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
package config
