/*
Package internal contains the raft log entry format and the lookup requests of
the raft engine.

A Command carries one write batch. It is encoded with a small binary framing
around the JSON form of each state:

	1 byte   command type
	4 bytes  number of writes (big endian)
	per write:
	  1 byte   write operation
	  4 bytes  length of the state JSON, followed by the JSON
	  2 bytes  number of fields, each field as 2 byte length + bytes

Results travel back in sm.Result: Value holds the db.RetCode, Data holds a
JSON encoded Outcome.
*/
package internal
