package tinyledger

/*
TinyLedger is an in-memory ledger of named balances intended for teaching concurrency control. It is not suitable for
production use: nothing is persisted and there is a single node.

The same transaction contract (begin, deposit, withdraw, balance, commit, abort) is implemented by three engines, one
per textbook concurrency control discipline: multiversion concurrency control, timestamp ordering (with a strict
variant) and strong strict two phase locking with deadlock detection. Building TinyLedger produces one executable,
ledger-ctl, an interactive shell that drives one engine.

The `tinyledger` module is organized into the following packages:

* `kv/transaction`: the engines and the selection of one by configuration. See its doc.go for an overview.
* `kv/transaction/txn`: the contract shared by the engines, their errors, timestamps and idle timers.
* `kv/util/rwlock`: the reader/writer lock keyed by transaction used by the locking engine.
* `kv/config`: configuration, loaded from toml.
* `kv/ledger-ctl`: the interactive shell.
*/
