// Package mediasearch embeds the multimodal search core in a Go program.
//
// The client talks to Milvus or Qdrant directly and keeps search sessions in process.
// Queries are embedded by a caller-supplied Embedder; reference searches reuse the
// stored embedding of an indexed item and need no embedder.
//
//	client, _ := mediasearch.New(ctx,
//	    mediasearch.WithMilvus("localhost:19530", "", ""),
//	    mediasearch.WithDatasets(mediasearch.Collection{Dataset: "MSVD", Version: "5sec"}),
//	    mediasearch.WithEmbedder(myEmbedder),
//	)
//	defer client.Close()
//
//	page, _ := client.SearchText(ctx, "a cat playing piano", mediasearch.Request{PageSize: 16})
//	for {
//	    page, err = client.Next(ctx, page.SessionID)
//	    if errors.Is(err, mediasearch.ErrEndOfResults) {
//	        break
//	    }
//	}
package mediasearch
