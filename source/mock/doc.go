// Package mock provides an in-memory source.RecordSource for tests.
//
//	src := mock.NewMockSource().Add(
//	    &core.Judge{Id: "J1", NameLast: "Marshall"},
//	    &core.Opinion{Id: "O1", ClusterID: "C1", AuthorID: "J1"},
//	)
//	src.Fail(core.KindCluster, "C1", source.ErrTransient, 2)
//	src.Delay(core.KindDocket, 50*time.Millisecond)
//
// Fetch counts per (kind, id) let tests assert that shared ancestors are
// fetched once, and the OnFetch hook lets them observe fetch order.
package mock
