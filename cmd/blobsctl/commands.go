package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/edgeblobs/blobs_sdk_go/pkg/blobs"
)

func newGetCmd(o *rootOptions) *cobra.Command {
	var (
		typeName string
		etag     string
	)
	cmd := &cobra.Command{
		Use:   "get <store> <key>",
		Short: "Print a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			responseType, err := blobs.ParseResponseType(typeName)
			if err != nil {
				return err
			}
			store, err := o.openStore(args[0])
			if err != nil {
				return err
			}

			result, err := store.GetWithMetadata(cmd.Context(), args[1], &blobs.GetWithMetadataOptions{
				ETag: etag,
				Type: responseType,
			})
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("blob %q not found in store %q", args[1], args[0])
			}
			defer result.Close()
			if result.NotModified {
				o.logger.Info("blob not modified", "key", args[1], "etag", result.ETag)
				return nil
			}
			return writeValue(cmd.OutOrStdout(), result.Data)
		},
	}
	cmd.Flags().StringVar(&typeName, "type", blobs.TypeText.String(), "arrayBuffer, blob, json, stream or text")
	cmd.Flags().StringVar(&etag, "etag", "", "only print the blob when its ETag differs")
	return cmd
}

func newSetCmd(o *rootOptions) *cobra.Command {
	var (
		metadata string
		asJSON   bool
		stdin    bool
	)
	cmd := &cobra.Command{
		Use:   "set <store> <key> [value]",
		Short: "Write a blob",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdin == (len(args) == 3) {
				return fmt.Errorf("pass the value as an argument or with --stdin, not both")
			}
			opts := &blobs.SetOptions{}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &opts.Metadata); err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
			}
			store, err := o.openStore(args[0])
			if err != nil {
				return err
			}

			ctx, key := cmd.Context(), args[1]
			switch {
			case stdin:
				err = store.SetStream(ctx, key, cmd.InOrStdin(), opts)
			case asJSON:
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("value is not valid JSON")
				}
				err = store.SetJSON(ctx, key, json.RawMessage(args[2]), opts)
			default:
				err = store.Set(ctx, key, []byte(args[2]), opts)
			}
			if err != nil {
				return err
			}
			o.logger.Debug("stored blob", "store", store.Name(), "key", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&metadata, "metadata", "", "JSON object attached to the blob")
	cmd.Flags().BoolVar(&asJSON, "json", false, "store the value as JSON")
	cmd.Flags().BoolVar(&stdin, "stdin", false, "stream the value from standard input")
	return cmd
}

func newDeleteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <store> <key>",
		Short: "Delete a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.openStore(args[0])
			if err != nil {
				return err
			}
			return store.Delete(cmd.Context(), args[1])
		},
	}
}

func newMetaCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <store> <key>",
		Short: "Print the ETag and metadata of a blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.openStore(args[0])
			if err != nil {
				return err
			}
			meta, err := store.GetMetadata(cmd.Context(), args[1], nil)
			if err != nil {
				return err
			}
			if meta == nil {
				return fmt.Errorf("blob %q not found in store %q", args[1], args[0])
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"etag":     meta.ETag,
				"metadata": meta.Metadata,
			})
		},
	}
}

func newListCmd(o *rootOptions) *cobra.Command {
	var (
		opts     blobs.ListOptions
		paginate bool
	)
	cmd := &cobra.Command{
		Use:   "list <store>",
		Short: "List the blobs of a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := o.openStore(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !paginate {
				result, err := store.List(cmd.Context(), &opts)
				if err != nil {
					return err
				}
				writeListing(out, result)
				return nil
			}

			it := store.ListPages(&opts)
			for page := 1; it.Next(cmd.Context()); page++ {
				fmt.Fprintf(out, "# page %d\n", page)
				writeListing(out, it.Page())
			}
			return it.Err()
		},
	}
	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only list keys starting with this prefix")
	cmd.Flags().BoolVar(&opts.Directories, "directories", false, "fold keys into directories at the next /")
	cmd.Flags().BoolVar(&paginate, "paginate", false, "print pages as they arrive")
	return cmd
}

func newStoresCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the stores of the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := o.clientConfig()
			result, err := blobs.ListStores(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			for _, name := range result.Stores {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func writeListing(w io.Writer, result *blobs.ListResult) {
	for _, dir := range result.Directories {
		fmt.Fprintf(w, "%s/\n", dir)
	}
	for _, b := range result.Blobs {
		fmt.Fprintf(w, "%s\t%s\n", b.Key, b.ETag)
	}
}

func writeValue(w io.Writer, value any) error {
	switch v := value.(type) {
	case string:
		_, err := io.WriteString(w, v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	case *blobs.Blob:
		_, err := w.Write(v.Data)
		return err
	case io.Reader:
		_, err := io.Copy(w, v)
		return err
	default:
		return writeJSON(w, v)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
