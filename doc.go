// Package bif reads and repacks game resources stored in catalog ("KEY") and
// archive ("BIFF") files.
//
// A [Catalog] maps resource names such as "SWORD01.ITM" to a [Locator], a
// 32-bit value naming an archive, an entry index and an entry kind. Archives
// come in three encodings that decode to the same layout:
//   - plain: header, entry table and raw data ("BIFFV1  ")
//   - whole-file: one zlib stream over a plain archive ("BIF V1.0")
//   - block: independently compressed chunks of a plain archive ("BIFCV1.0")
//
// [Open] detects the encoding and returns a [Reader]. Catalogs open archives
// through a [ReaderCache] so each file is opened once; a [Writer] packs a set
// of resources into a fresh archive, replaces the file on disk and republishes
// the new locators through the catalog.
//
// # Quick Start
//
//	cat, err := bif.Load("chitin.key", []string{"dlc/mod.key"})
//	if err != nil {
//	    return err
//	}
//	defer cat.Close()
//	data, err := cat.ReadResource("SWORD01.ITM")
//
// # Concurrency
//
// Lookups and reads are safe for concurrent use once Load returns. Writer.Write
// is an exclusive batch operation: callers must not read the resources being
// repacked while it runs and must drop locators it superseded.
package bif
