package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// InitConfig sets up the daemon's Viper config object with startup defaults
// and reads the config file from the data dir, creating both if missing.
func InitConfig(config *viper.Viper) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	config.SetDefault("datadir", filepath.Join(homeDir, ".heistd"))
	config.SetConfigType("yaml")
	config.SetConfigFile(filepath.Join(config.GetString("datadir"), "config.yaml"))

	config.SetDefault("httpport", "8888")
	config.SetDefault("backend", "bolt")
	config.SetDefault("debuglevel", "info")

	config.SetDefault("judgeapikey", "")
	config.SetDefault("judgemodel", "")
	config.SetDefault("judgeendpoint", "")
	config.SetDefault("judgetimeoutsec", 30)

	config.SetDefault("ethosurl", "")
	config.SetDefault("requireattestation", false)

	config.SetDefault("confidencethreshold", 80)
	config.SetDefault("housefeepct", 10)
	config.SetDefault("listingfee", "0")
	config.SetDefault("reviewwindowhours", 24)
	config.SetDefault("sweepintervalsec", 30)

	if err := initDataDir(config); err != nil {
		return err
	}
	if err := config.ReadInConfig(); err != nil {
		// First run: persist the defaults so operators have a file to edit.
		if werr := config.WriteConfig(); werr != nil {
			return werr
		}
	}
	return nil
}

func initDataDir(conf *viper.Viper) error {
	dir := conf.GetString("datadir")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
