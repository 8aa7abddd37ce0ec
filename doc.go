package tinykcv

/*
TinyKCV is a key-column-value storage layer: every key holds a sorted map of columns to values, read through column
slices and written through buffered, chunked transactions that keep a read cache coherent with the backend.

The `tinykcv` module is organized into the following packages:

* `kv/kcv`: the data model (buffers, entries, slice queries, mutations) and the store, manager and transaction
  contracts every backend implements. `kv/kcv/kcvtest` holds the behaviour all backends are tested against.
* `kv/storage`: the backends. `inmemory` is a copy-on-write column store per key; `orderedkv` maps the contract onto
  any ordered key-value engine, with `badgerkv` and `leveldbkv` as the persistent engines.
* `kv/cache`: the caching store decorators and the transactions that buffer mutations and invalidate cached rows.
* `kv/backend`: opens a configured backend, wraps its stores in caches and starts transactions.
* `kv/kcvs-ctl`: a command line tool to load, inspect, dump and restore stores.
*/
