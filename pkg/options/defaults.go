package options

import "time"

const (
	// DefaultDataDir specifies the default base directory where revd
	// stores its `.rvd`/`.sdb` file pairs.
	DefaultDataDir = "/var/lib/revd"

	// FiftyMBFile is the mandatory block-size floor on platforms that
	// require 65536-aligned mmap sizes. Grounded on the original's
	// FIFTY_MB_FILE constant.
	FiftyMBFile uint32 = 52_428_800

	// MinBlockSize and MaxBlockSize bound WithBlockSize's accepted range.
	MinBlockSize uint32 = 1 * 1024 * 1024
	MaxBlockSize uint32 = 1024 * 1024 * 1024

	// DefaultBlockSize is the default block size for newly allocated files.
	DefaultBlockSize = FiftyMBFile

	// DefaultNumBlocks is the default total block count (header + 31
	// usable ind blocks) for newly allocated files.
	DefaultNumBlocks uint32 = 32

	// DefaultGopBufferWindow is the "buffer full" timeout from spec §4.4.
	DefaultGopBufferWindow = 20 * time.Second

	// DefaultLedgerBusyTimeout, DefaultLedgerOpenRetries, and
	// DefaultLedgerRetryBaseSleep are grounded on r_sqlite_conn.cpp's
	// BUSY_TIMEOUT_MILLIS, DEFAULT_NUM_OPEN_RETRIES, and BASE_SLEEP_MICROS.
	DefaultLedgerBusyTimeout    = 2 * time.Second
	DefaultLedgerOpenRetries    = 5
	DefaultLedgerRetryBaseSleep = 500 * time.Millisecond

	// DefaultIndEntriesPerBlock is the entry-table capacity a newly
	// initialized ind block is given.
	DefaultIndEntriesPerBlock uint32 = 256
)

// defaultOptions holds the default configuration for a revd storage file.
var defaultOptions = Options{
	DataDir:              DefaultDataDir,
	BlockSize:            DefaultBlockSize,
	NumBlocks:            DefaultNumBlocks,
	GopBufferWindow:      DefaultGopBufferWindow,
	FixLiveSegmentOnOpen: true,
	IndEntriesPerBlock:   DefaultIndEntriesPerBlock,
	LedgerOptions: &ledgerOptions{
		BusyTimeout:    DefaultLedgerBusyTimeout,
		OpenRetries:    DefaultLedgerOpenRetries,
		RetryBaseSleep: DefaultLedgerRetryBaseSleep,
	},
}

// NewDefaultOptions returns the default configuration settings.
func NewDefaultOptions() Options {
	opts := defaultOptions
	ledgerCopy := *defaultOptions.LedgerOptions
	opts.LedgerOptions = &ledgerCopy
	return opts
}
