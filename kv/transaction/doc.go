package transaction

// The transaction package implements TinyLedger's transaction layer: a ledger of named balances that callers change
// through transactions. A caller starts a transaction, which hands it a timestamp, then deposits, withdraws and reads
// balances under that timestamp, and finally commits or aborts it. The contract is the Engine interface in `txn`.
//
// Three concurrency control engines implement the contract, one per subpackage. They never share state; NewEngine
// picks one according to the configuration.
//
// ## mvcc
//
// Multiversion concurrency control. Every write adds a version of the account stamped with the writer's timestamp
// and every read returns the newest version not after the reader's timestamp, so nothing ever blocks. A version
// remembers the largest timestamp that read it; a write underneath such a read fails with TimestampOutdated. Writers
// of one account are not validated against each other.
//
// ## tbcc
//
// Timestamp ordering. An account has a committed balance and a list of tentative writes, one per unfinished writer.
// Reads and writes that arrive too late for their timestamp fail with TimestampOutdated. A read that would observe
// the tentative write of an older, unfinished transaction waits until some transaction commits or aborts and then
// looks again. The strict variant rejects a write to an account with another unfinished writer (AccountDirty), so no
// transaction ever reads a value that may still roll back.
//
// ## ss2pl
//
// Strong strict two phase locking. Each account has a reader/writer lock (`kv/util/rwlock`) keyed by timestamp.
// Locks are taken on first use and released only at commit or abort. Changes go to a per-transaction workspace and
// are copied to the committed table on commit. Before waiting for a lock, the requester's wait-for edges are added to
// a graph; a request that closes a cycle fails with DeadlockDetected.
//
// ## Timeouts
//
// Every engine restarts an idle timer on each operation of a transaction and aborts the transaction when it fires
// (config.TxnTimeout, 30 seconds by default). This frees the locks and tentative writes of abandoned transactions.
//
// ## Errors
//
// Engines return the sentinels of `txn` annotated with the account and timestamp; use txn.ErrorIs or errors.Cause
// to test them. A failed commit leaves the transaction open, so the caller may fix it or abort it. NegativeBalance,
// DeadlockDetected and AccountDirty are recoverable in that sense; TimestampInvalid and TimestampOutdated require a
// new transaction.
