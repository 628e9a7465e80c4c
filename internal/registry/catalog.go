package registry

import "inferd/pkg/types"

// Default returns the catalog of models this build ships with. Declaration
// order is display order.
func Default() *Catalog {
	return MustNew(
		Entry{
			ModelDescriptor: types.ModelDescriptor{
				Name:        "qwen2.5-1.5b-instruct",
				Kind:        types.BackendTextOnly,
				ToolCalling: true,
				DisplayName: "Qwen 2.5 1.5B Instruct",
			},
			Source: HubSource{
				Repo:  "bartowski/Qwen2.5-1.5B-Instruct-GGUF",
				Files: []string{"Qwen2.5-1.5B-Instruct-Q4_K_M.gguf"},
			},
			StopTokens: []string{"<|im_end|>"},
		},
		Entry{
			ModelDescriptor: types.ModelDescriptor{
				Name:        "llama-3.2-1b-instruct",
				Kind:        types.BackendTextOnly,
				ToolCalling: false,
				DisplayName: "Llama 3.2 1B Instruct",
			},
			Source: HubSource{
				Repo:  "bartowski/Llama-3.2-1B-Instruct-GGUF",
				Files: []string{"Llama-3.2-1B-Instruct-Q4_K_M.gguf"},
			},
			StopTokens: []string{"<|eot_id|>"},
		},
		Entry{
			ModelDescriptor: types.ModelDescriptor{
				Name:        "smolvlm2-2.2b-instruct",
				Kind:        types.BackendVisionCapable,
				ToolCalling: false,
				DisplayName: "SmolVLM2 2.2B Instruct",
			},
			Source: HubSource{
				Repo: "ggml-org/SmolVLM2-2.2B-Instruct-GGUF",
				Files: []string{
					"SmolVLM2-2.2B-Instruct-Q4_K_M.gguf",
					"mmproj-SmolVLM2-2.2B-Instruct-f16.gguf",
				},
				MMProj: "mmproj-SmolVLM2-2.2B-Instruct-f16.gguf",
			},
			StopTokens: []string{"<end_of_utterance>"},
		},
		Entry{
			ModelDescriptor: types.ModelDescriptor{
				Name:        "qwen2.5-vl-3b-instruct",
				Kind:        types.BackendVisionCapable,
				ToolCalling: true,
				DisplayName: "Qwen 2.5 VL 3B Instruct",
			},
			Source: HubSource{
				Repo: "ggml-org/Qwen2.5-VL-3B-Instruct-GGUF",
				Files: []string{
					"Qwen2.5-VL-3B-Instruct-Q4_K_M.gguf",
					"mmproj-Qwen2.5-VL-3B-Instruct-f16.gguf",
				},
				MMProj: "mmproj-Qwen2.5-VL-3B-Instruct-f16.gguf",
			},
			StopTokens: []string{"<|im_end|>"},
		},
	)
}
