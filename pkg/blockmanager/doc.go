// Package blockmanager implements the metadata table and
// readers-writer lock protocol that sits in front of a block storage
// layer: the byte storage tiers, serialization, replication and RPC
// surface to a remote master are all external collaborators and are
// intentionally not part of this package.
package blockmanager
