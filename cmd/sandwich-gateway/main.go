package main

import (
	"flag"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	gateway "github.com/WelcomerTeam/Sandwich-Gateway/internal"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// .env is optional.
	_ = godotenv.Load()

	loggingLevel := flag.String("level", os.Getenv("LOGGING_LEVEL"), "Logging level")

	loggingFileLoggingEnabled := flag.Bool("fileLoggingEnabled", mustParseBool(os.Getenv("LOGGING_FILE_LOGGING_ENABLED")), "When enabled, will save logs to files")
	loggingEncodeAsJSON := flag.Bool("encodeAsJSON", mustParseBool(os.Getenv("LOGGING_ENCODE_AS_JSON")), "When enabled, will save logs as JSON")
	loggingCompress := flag.Bool("compress", mustParseBool(os.Getenv("LOGGING_COMPRESS")), "If true, will compress log files once reached max size")
	loggingDirectory := flag.String("directory", os.Getenv("LOGGING_DIRECTORY"), "Directory to store logs in")
	loggingFilename := flag.String("filename", os.Getenv("LOGGING_FILENAME"), "Filename to store logs as")
	loggingMaxSize := flag.Int("maxSize", mustParseInt(os.Getenv("LOGGING_MAX_SIZE")), "Maximum size for log files before being split into seperate files")
	loggingMaxBackups := flag.Int("maxBackups", mustParseInt(os.Getenv("LOGGING_MAX_BACKUPS")), "Maximum number of log files before being deleted")
	loggingMaxAge := flag.Int("maxAge", mustParseInt(os.Getenv("LOGGING_MAX_AGE")), "Maximum age in days for a log file")

	configurationLocation := flag.String("configuration", os.Getenv("CONFIGURATION_LOCATION"), "Path of configuration file")
	prometheusAddress := flag.String("prometheusAddress", os.Getenv("PROMETHEUS_ADDRESS"), "Prometheus address")
	httpHost := flag.String("httpHost", os.Getenv("HTTP_HOST"), "Host to use for internal dashboard")
	httpEnabled := flag.Bool("httpEnabled", mustParseBool(os.Getenv("HTTP_ENABLED")), "Enables the internal dashboard")
	baseURL := flag.String("baseURL", os.Getenv("BASE_URL"), "Base url to send API requests to. Defaults to https://discord.com")

	flag.Parse()

	if *configurationLocation == "" {
		*configurationLocation = "sandwich.yaml"
	}

	// Setup Logger
	level, err := zerolog.ParseLevel(*loggingLevel)
	if err != nil {
		panic(`zerolog.ParseLevel(): ` + err.Error())
	}

	zerolog.SetGlobalLevel(level)

	var writers []io.Writer

	writers = append(writers, zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.Stamp,
	})

	if *loggingFileLoggingEnabled {
		if err := os.MkdirAll(*loggingDirectory, 0o744); err != nil {
			panic(`os.MkdirAll(): ` + err.Error())
		}

		fileWriter := &lumberjack.Logger{
			Filename:   *loggingDirectory + *loggingFilename,
			MaxBackups: *loggingMaxBackups,
			MaxSize:    *loggingMaxSize,
			MaxAge:     *loggingMaxAge,
			Compress:   *loggingCompress,
		}

		if *loggingEncodeAsJSON {
			writers = append(writers, fileWriter)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        fileWriter,
				TimeFormat: time.Stamp,
				NoColor:    true,
			})
		}
	}

	mw := io.MultiWriter(writers...)
	logger := zerolog.New(mw).With().Timestamp().Logger()
	logger.Info().Msg("Logging configured")

	options := gateway.SandwichOptions{
		ConfigurationLocation: *configurationLocation,
		PrometheusAddress:     *prometheusAddress,
		HTTPHost:              *httpHost,
		HTTPEnabled:           *httpEnabled,
	}

	if *baseURL != "" {
		parsedURL, err := url.Parse(*baseURL)
		if err != nil {
			logger.Panic().Err(err).Msg("Failed to parse base url")
		}

		options.BaseURL = *parsedURL
	}

	// Sandwich initialization
	sg, err := gateway.NewSandwich(mw, options)
	if err != nil {
		logger.Panic().Err(err).Msg("Cannot create sandwich")
	}

	err = sg.Open()
	if err != nil {
		logger.Panic().Err(err).Msg("Cannot open sandwich")
	}

	// We return if it not ok
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-signalCh

	err = sg.Close()
	if err != nil {
		logger.Warn().Err(err).Msg("Exception whilst closing sandwich")
	}
}

func mustParseBool(str string) bool {
	boolean, _ := strconv.ParseBool(str)

	return boolean
}

func mustParseInt(str string) int {
	integer, _ := strconv.Atoi(str)

	return integer
}
