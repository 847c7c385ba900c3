// Package log builds the crawler's slog loggers.
//
// Every logger goes through SecureHandler, which masks attribute values
// whose key names a secret (cookies, session headers, the archive
// passphrase) or whose value looks like a credential. Forum cookies and the
// quarantine archive password can therefore be passed around in structured
// log calls without ever reaching the output.
//
// Logs go to stderr by default. New can instead write to a file that is
// rotated by size, which suits long unattended crawls.
//
//	logger, closer, err := log.New(log.Options{Verbose: true, File: "crawl.log"})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//	slog.SetDefault(logger)
package log
