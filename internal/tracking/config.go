package tracking

import (
	"time"

	"fleet-monitor/tracking/internal/domain"
)

// Config holds the engine thresholds. Zero fields take the defaults.
type Config struct {
	LiveWindow    time.Duration
	DelayedWindow time.Duration
	// OfflineAlertWindow is measured from the last received sample and is
	// only checked once the trip is offline, so any value at or below
	// DelayedWindow raises the alert as soon as the trip goes offline.
	// Defaults to DelayedWindow.
	OfflineAlertWindow  time.Duration
	StationaryWindow    time.Duration
	MovingThreshold     float64 // m/s
	LowBatteryThreshold float64 // percent
	HistoryCapacity     int
	TickInterval        time.Duration
	MaxPlausibleSpeed   float64 // m/s
	SubscribeRetryBase  time.Duration
	SubscribeRetryMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		LiveWindow:          30 * time.Second,
		DelayedWindow:       120 * time.Second,
		OfflineAlertWindow:  120 * time.Second,
		StationaryWindow:    600 * time.Second,
		MovingThreshold:     0.5,
		LowBatteryThreshold: 20,
		HistoryCapacity:     100,
		TickInterval:        5 * time.Second,
		MaxPlausibleSpeed:   50,
		SubscribeRetryBase:  time.Second,
		SubscribeRetryMax:   30 * time.Second,
	}
}

// withDefaults fills zero fields so a partially populated Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LiveWindow <= 0 {
		c.LiveWindow = d.LiveWindow
	}
	if c.DelayedWindow <= 0 {
		c.DelayedWindow = d.DelayedWindow
	}
	if c.DelayedWindow < c.LiveWindow {
		c.DelayedWindow = c.LiveWindow
	}
	if c.OfflineAlertWindow <= 0 {
		c.OfflineAlertWindow = c.DelayedWindow
	}
	if c.StationaryWindow <= 0 {
		c.StationaryWindow = d.StationaryWindow
	}
	if c.MovingThreshold <= 0 {
		c.MovingThreshold = d.MovingThreshold
	}
	if c.LowBatteryThreshold <= 0 {
		c.LowBatteryThreshold = d.LowBatteryThreshold
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxPlausibleSpeed <= 0 {
		c.MaxPlausibleSpeed = d.MaxPlausibleSpeed
	}
	if c.SubscribeRetryBase <= 0 {
		c.SubscribeRetryBase = d.SubscribeRetryBase
	}
	if c.SubscribeRetryMax <= 0 {
		c.SubscribeRetryMax = d.SubscribeRetryMax
	}
	return c
}

func (c Config) alertThresholds() domain.AlertThresholds {
	return domain.AlertThresholds{
		OfflineAlertWindow:  c.OfflineAlertWindow,
		StationaryWindow:    c.StationaryWindow,
		LowBatteryThreshold: c.LowBatteryThreshold,
	}
}
