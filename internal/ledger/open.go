package ledger

import (
	"fmt"
	"time"
)

// Backend kinds accepted by Open.
const (
	KindSolana  = "solana"
	KindEVM     = "evm"
	KindIndexer = "indexer"
)

// Options selects and configures a backend. Assets lists the accepted token
// mints or contracts; the indexer backend ignores it and Payee.
type Options struct {
	Kind          string
	SolanaRPCURL  string
	EVMRPCURL     string
	IndexerURL    string
	IndexerAPIKey string
	Payee         string
	Assets        []string
	Timeout       time.Duration
}

// Open returns the Querier for o.Kind.
func Open(o Options) (Querier, error) {
	switch o.Kind {
	case KindSolana:
		s, err := NewSolana(o.SolanaRPCURL, o.Payee, o.Assets, o.Timeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindEVM:
		e, err := NewEVM(o.EVMRPCURL, o.Payee, o.Assets, o.Timeout)
		if err != nil {
			return nil, err
		}
		return e, nil
	case KindIndexer:
		return NewIndexer(o.IndexerURL, o.IndexerAPIKey, o.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", o.Kind)
	}
}
