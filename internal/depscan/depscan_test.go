package depscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   Manifest
	}{
		{
			name:   "plain imports",
			source: "import os\nimport numpy as np\nimport pandas.io.sql\n",
			want:   Manifest{"os", "numpy", "pandas"},
		},
		{
			name:   "from imports use the source module",
			source: "from sklearn.linear_model import LinearRegression\nfrom requests import get, post\n",
			want:   Manifest{"sklearn", "requests"},
		},
		{
			name:   "duplicates collapse in first seen order",
			source: "import requests\nimport os.path\nfrom requests.adapters import HTTPAdapter\nimport os\n",
			want:   Manifest{"requests", "os"},
		},
		{
			name:   "comma separated and semicolons",
			source: "import sys, json as j; import yaml\n",
			want:   Manifest{"sys", "json", "yaml"},
		},
		{
			name:   "relative imports are skipped",
			source: "from . import helpers\nfrom .models import Task\nimport flask\n",
			want:   Manifest{"flask"},
		},
		{
			name:   "parenthesized and continued lines",
			source: "from typing import (\n    Any,\n    Dict,\n)\nimport boto3, \\\n    botocore\n",
			want:   Manifest{"typing", "boto3", "botocore"},
		},
		{
			name:   "function and class bodies are skipped",
			source: "def main():\n    import scipy\n\nclass Job:\n    import attr\n    def run(self):\n        if True:\n            import torch\nimport click\n",
			want:   Manifest{"click"},
		},
		{
			name:   "module level blocks are included",
			source: "import os\ntry:\n    import ujson as json\nexcept ImportError:\n    import json\nif True:\n    import requests\n",
			want:   Manifest{"os", "ujson", "json", "requests"},
		},
		{
			name:   "dedent after a function returns to module scope",
			source: "if DEBUG:\n    def trace():\n        import pdb\n    import logging\nwith ctx:\n    for x in {1: 2}:\n        import yaml\n",
			want:   Manifest{"logging", "yaml"},
		},
		{
			name:   "single line blocks",
			source: "if sys: import toml\nelse: import tomli; import tomllib\ndef f(): import scipy\nwhile (n := 0): import attr\n",
			want:   Manifest{"toml", "tomli", "tomllib", "attr"},
		},
		{
			name:   "keyword prefixed names are not blocks",
			source: "iffy = 1\nwith_retry: int = 3\nimport click\n",
			want:   Manifest{"click"},
		},
		{
			name:   "imports inside strings and comments are ignored",
			source: "\"\"\"\nimport fake\n\"\"\"\n# import commented\nx = 'import quoted'\nimport real  # trailing\n",
			want:   Manifest{"real"},
		},
		{
			name:   "identifiers that start with import",
			source: "importlib_name = 1\nimport importlib\n",
			want:   Manifest{"importlib"},
		},
		{
			name:   "no imports",
			source: "print('hello')\n",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.source))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_SyntaxErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "unterminated string", source: "import os\nx = 'oops\n"},
		{name: "unterminated docstring", source: "\"\"\"never closed\nimport os\n"},
		{name: "unclosed bracket", source: "import os\nprint(1\n"},
		{name: "stray closing bracket", source: "x = 1)\n"},
		{name: "empty import", source: "import\n"},
		{name: "broken alias", source: "import numpy as\n"},
		{name: "dangling from", source: "from numpy\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.source))
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestDetect(t *testing.T) {
	source := []byte("import numpy\nfrom pandas import DataFrame\n")

	assert.Equal(t, "numpy\npandas", Detect("job.py", source))
	assert.Equal(t, "", Detect("job.ipynb", source))
	assert.Equal(t, "", Detect("job.PY", source))
	assert.Equal(t, "", Detect("job.py", []byte("import os\nprint(\n")))
	assert.Equal(t, "os\nujson\njson\nrequests",
		Detect("a.py", []byte("import os\ntry:\n    import ujson as json\nexcept ImportError:\n    import json\nif True:\n    import requests\n")))
}

func TestRequirements(t *testing.T) {
	got := Requirements("numpy\n\n  pandas==2.0  \n# pinned below\nrequests\n")
	assert.Equal(t, []string{"numpy", "pandas==2.0", "requests"}, got)
	assert.Empty(t, Requirements(""))
}
