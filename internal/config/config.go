// Package config resolves the submit-files CLI's flags and environment
// fallbacks into a single validated Config. A flag that is set wins; the
// environment variable is consulted only when the flag is empty.
package config

import (
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/elephant-xyz/submit-files/internal/ethsig"
)

// ErrMissingCredentials is returned when a required credential or
// endpoint is absent after flags and environment have both been
// consulted.
var ErrMissingCredentials = errors.New("missing required credential")

// Config is the fully resolved set of inputs cmd/submit-files needs to
// build its pipeline.Engine.
type Config struct {
	InputDir string

	PinataJWT       string
	PrivateKeyHex   string
	KeystorePath    string
	KeystorePass    string
	RPCURL          string
	ContractAddress common.Address
	ChainID         *big.Int

	MaxConcurrentUploads int64
	TransactionBatchSize int
	MaxConcurrentQueries int64
	SchemaCacheSize      int
	ChainQueryTimeout    time.Duration
	UploadTimeout        time.Duration

	ErrorCSVPath   string
	WarningCSVPath string

	JSONLLog bool
	DryRun   bool

	SchemaCacheDir         string
	MaxRetries             int
	RetryDelay             time.Duration
	RetryBackoffMultiplier float64
	AwaitConfirmation      bool
}

// flagSet mirrors Config's tunables one-to-one; kept separate from
// Config so Load can be unit tested against an explicit argv without
// touching the process's real flag.CommandLine.
type flagSet struct {
	pinataJWT            *string
	privateKey           *string
	keystorePath         *string
	rpcURL               *string
	contractAddress      *string
	chainID              *int64
	maxConcurrentUploads *int64
	transactionBatchSize *int
	maxConcurrentQueries *int64
	schemaCacheSize      *int
	chainQueryTimeoutSec *int
	uploadTimeoutSec     *int
	errorCSV             *string
	warningCSV           *string
	jsonlLog             *bool
	dryRun               *bool

	schemaCacheDir         *string
	maxRetries             *int
	retryDelaySec          *float64
	retryBackoffMultiplier *float64
	confirm                *bool
}

// Load parses args (typically os.Args[1:]) and resolves environment
// fallbacks, returning an error wrapping ErrMissingCredentials if a
// required value is absent once both sources are consulted.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("submit-files", flag.ContinueOnError)

	flags := flagSet{
		pinataJWT:            fs.String("pinata-jwt", "", "Pinata JWT credential (env PINATA_JWT)"),
		privateKey:           fs.String("private-key", "", "hex-encoded signing key (env ELEPHANT_PRIVATE_KEY)"),
		keystorePath:         fs.String("keystore", "", "path to an encrypted keystore file, alternative to --private-key"),
		rpcURL:               fs.String("rpc-url", "", "ledger JSON-RPC endpoint (env RPC_URL)"),
		contractAddress:      fs.String("contract-address", "", "submission contract address (env SUBMIT_CONTRACT_ADDRESS)"),
		chainID:              fs.Int64("chain-id", 0, "EVM chain ID for transaction signing (env CHAIN_ID)"),
		maxConcurrentUploads: fs.Int64("max-concurrent-uploads", 4, "bound on in-flight pinning uploads"),
		transactionBatchSize: fs.Int("transaction-batch-size", 50, "number of data items per on-chain submission"),
		maxConcurrentQueries: fs.Int64("max-concurrent-chain-queries", 8, "bound on concurrent ledger oracle queries"),
		schemaCacheSize:      fs.Int("schema-cache-size", 256, "bounded LRU size for the schema cache"),
		chainQueryTimeoutSec: fs.Int("chain-query-timeout", 15, "seconds before a ledger oracle query times out"),
		uploadTimeoutSec:     fs.Int("upload-timeout", 60, "seconds before a single upload attempt times out"),
		errorCSV:             fs.String("errors-csv", "errors.csv", "path for the error audit log"),
		warningCSV:           fs.String("warnings-csv", "warnings.csv", "path for the warning audit log"),
		jsonlLog:             fs.Bool("jsonl", false, "use JSONL format for ambient logging"),
		dryRun:               fs.Bool("dry-run", false, "skip the uploader and ledger submitter; report what would happen"),

		schemaCacheDir:         fs.String("schema-cache-dir", "schema-cache", "directory the schema cache persists fetched schemas to"),
		maxRetries:             fs.Int("max-retries", 3, "retry attempts for a failed upload or submission, beyond the first"),
		retryDelaySec:          fs.Float64("retry-delay", 2, "seconds to wait before the first retry"),
		retryBackoffMultiplier: fs.Float64("retry-backoff-multiplier", 2, "multiplier applied to the retry delay after each attempt"),
		confirm:                fs.Bool("confirm", false, "wait for each submission transaction to be mined before continuing"),
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() < 1 {
		return Config{}, fmt.Errorf("%w: an input directory argument is required", ErrMissingCredentials)
	}

	cfg := Config{
		InputDir:             fs.Arg(0),
		PinataJWT:            firstNonEmpty(*flags.pinataJWT, os.Getenv("PINATA_JWT")),
		PrivateKeyHex:        firstNonEmpty(*flags.privateKey, os.Getenv("ELEPHANT_PRIVATE_KEY")),
		KeystorePath:         *flags.keystorePath,
		RPCURL:               firstNonEmpty(*flags.rpcURL, os.Getenv("RPC_URL")),
		MaxConcurrentUploads: *flags.maxConcurrentUploads,
		TransactionBatchSize: *flags.transactionBatchSize,
		MaxConcurrentQueries: *flags.maxConcurrentQueries,
		SchemaCacheSize:      *flags.schemaCacheSize,
		ChainQueryTimeout:    time.Duration(*flags.chainQueryTimeoutSec) * time.Second,
		UploadTimeout:        time.Duration(*flags.uploadTimeoutSec) * time.Second,
		ErrorCSVPath:         *flags.errorCSV,
		WarningCSVPath:       *flags.warningCSV,
		JSONLLog:             *flags.jsonlLog,
		DryRun:               *flags.dryRun,

		SchemaCacheDir:         *flags.schemaCacheDir,
		MaxRetries:             *flags.maxRetries,
		RetryDelay:             time.Duration(*flags.retryDelaySec * float64(time.Second)),
		RetryBackoffMultiplier: *flags.retryBackoffMultiplier,
		AwaitConfirmation:      *flags.confirm,
	}

	contractStr := firstNonEmpty(*flags.contractAddress, os.Getenv("SUBMIT_CONTRACT_ADDRESS"))

	chainID := *flags.chainID
	if chainID == 0 {
		if env := os.Getenv("CHAIN_ID"); env != "" {
			parsed, ok := new(big.Int).SetString(env, 10)
			if !ok {
				return Config{}, fmt.Errorf("%w: CHAIN_ID %q is not a valid integer", ErrMissingCredentials, env)
			}
			cfg.ChainID = parsed
		}
	} else {
		cfg.ChainID = big.NewInt(chainID)
	}

	if !cfg.DryRun {
		if cfg.PinataJWT == "" {
			return Config{}, fmt.Errorf("%w: pinata JWT (--pinata-jwt or PINATA_JWT)", ErrMissingCredentials)
		}
		if err := sanityCheckJWT(cfg.PinataJWT); err != nil {
			return Config{}, fmt.Errorf("%w: pinata JWT: %v", ErrMissingCredentials, err)
		}
		if cfg.PrivateKeyHex == "" && cfg.KeystorePath == "" {
			return Config{}, fmt.Errorf("%w: signing key (--private-key, ELEPHANT_PRIVATE_KEY, or --keystore)", ErrMissingCredentials)
		}
		if cfg.RPCURL == "" {
			return Config{}, fmt.Errorf("%w: RPC endpoint (--rpc-url or RPC_URL)", ErrMissingCredentials)
		}
		if contractStr == "" {
			return Config{}, fmt.Errorf("%w: contract address (--contract-address or SUBMIT_CONTRACT_ADDRESS)", ErrMissingCredentials)
		}
		if !common.IsHexAddress(contractStr) {
			return Config{}, fmt.Errorf("%w: contract address %q is not a valid hex address", ErrMissingCredentials, contractStr)
		}
		cfg.ContractAddress = common.HexToAddress(contractStr)

		if cfg.ChainID == nil {
			return Config{}, fmt.Errorf("%w: chain ID (--chain-id or CHAIN_ID)", ErrMissingCredentials)
		}

		if cfg.KeystorePath != "" && cfg.PrivateKeyHex == "" {
			pass, err := promptPassphrase()
			if err != nil {
				return Config{}, fmt.Errorf("reading keystore passphrase: %w", err)
			}
			cfg.KeystorePass = pass
		}
	}

	return cfg, nil
}

// LoadIdentity resolves the signing key the config names, either from a
// raw hex private key or an encrypted keystore file.
func (c Config) LoadIdentity() (*ecdsa.PrivateKey, error) {
	if c.PrivateKeyHex != "" {
		return ethsig.LoadPrivateKeyFromHex(c.PrivateKeyHex)
	}
	return ethsig.LoadPrivateKeyFromKeystore(c.KeystorePath, c.KeystorePass)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// sanityCheckJWT parses the Pinata credential without verifying a
// signature (Pinata's own API is the authority on that) and, when the
// token carries an exp claim, confirms it is well-formed and unexpired,
// so a stale credential fails at startup rather than on the first
// upload. A token with no exp claim is accepted.
func sanityCheckJWT(token string) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("parsing token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("reading exp claim: %w", err)
	}
	if exp == nil {
		return nil
	}
	if exp.Before(timeNow()) {
		return fmt.Errorf("token expired at %s", exp.String())
	}
	return nil
}

// timeNow is a seam so tests can freeze expiration comparisons.
var timeNow = func() time.Time { return time.Now() }

func promptPassphrase() (string, error) {
	fmt.Fprint(os.Stderr, "keystore passphrase: ")
	b, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
