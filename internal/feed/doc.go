// Package feed decodes raw WebSocket messages into a closed set of typed
// feed messages (Snapshot, Delta, Trade, Unknown) at the transport boundary.
//
// Wire prices are integer cents on the YES/NO books; decoding normalizes
// both books into a single YES-denominated bid/ask view in internal price
// units (hundred-thousandths): a NO level at price p is an ask at 100-p.
package feed
