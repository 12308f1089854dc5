package logger

import (
	"fmt"
	"time"
)

// ANSI color codes for console output.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

func line(color, level, tag, msg string) {
	fmt.Printf("%s%s%s %s%-5s%s %s[%s]%s %s\n",
		colorGray, timestamp(), colorReset,
		color, level, colorReset,
		colorCyan, tag, colorReset,
		msg)
}

// Info logs an informational message under a component tag.
func Info(tag, msg string) {
	line(colorReset, "INFO", tag, msg)
}

// Success logs a completed-step message.
func Success(tag, msg string) {
	line(colorGreen, "OK", tag, msg)
}

// Warn logs a recoverable problem.
func Warn(tag, msg string) {
	line(colorYellow, "WARN", tag, msg)
}

// Error logs a failure.
func Error(tag, msg string) {
	line(colorRed, "ERROR", tag, msg)
}

// Banner prints the startup banner with the build version.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Printf("%s%s", colorBold, colorCyan)
	fmt.Println(`  ___ ___   _     ___                _   `)
	fmt.Println(` | __| _ ) /_\   / __| __ ___ _  _ _| |_ `)
	fmt.Println(` | _|| _ \/ _ \  \__ \/ _/ _ \ || |  _|  `)
	fmt.Println(` |_| |___/_/ \_\ |___/\__\___/\_,_|\__|  `)
	fmt.Printf("%s", colorReset)
	fmt.Printf(" %ssourcing analyzer %s%s\n\n", colorGray, version, colorReset)
}

// Section prints a visual divider between run phases.
func Section(title string) {
	fmt.Printf("\n%s─── %s %s%s\n", colorGray, title, "───────────────────────", colorReset)
}

// Stats prints a key/value statistic line.
func Stats(key string, value interface{}) {
	fmt.Printf("  %s%-24s%s %v\n", colorGray, key, colorReset, value)
}
