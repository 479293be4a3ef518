package transaction

import (
	"github.com/pingcap-incubator/tinyledger/kv/config"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/mvcc"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/ss2pl"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/tbcc"
	"github.com/pingcap-incubator/tinyledger/kv/transaction/txn"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// NewEngine creates the engine conf.CCType names.
func NewEngine(conf *config.Config) (txn.Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	var engine txn.Engine
	switch conf.CCType {
	case config.CCTypeMVCC:
		engine = mvcc.NewEngine(conf)
	case config.CCTypeTimestampBased:
		engine = tbcc.NewEngine(conf)
	case config.CCTypeStrictTimestampBased:
		engine = tbcc.NewStrictEngine(conf)
	case config.CCTypeStrongStrict2PL:
		engine = ss2pl.NewEngine(conf)
	default:
		return nil, errors.Errorf("unknown concurrency control type %q", conf.CCType)
	}
	log.Info("transaction engine created", zap.String("cc-type", conf.CCType),
		zap.Duration("txn-timeout", conf.TxnTimeout.Duration))
	return engine, nil
}
