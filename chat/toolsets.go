package chat

import (
	"context"
	"fmt"

	"github.com/nbi-ai/nbi/shared/jsonutil"
)

// Built-in toolset ids selectable in agent mode.
const (
	ToolsetNotebookEdit    = "nbi-notebook-edit"
	ToolsetNotebookExecute = "nbi-notebook-execute"
	ToolsetPythonFileEdit  = "nbi-python-file-edit"
)

const notebookEditInstructions = `
You are an assistant that creates and edits Jupyter notebooks. Notebooks are made up of source code cells and markdown cells. Markdown cells have source in markdown format and code cells have source in a specified programming language. If no programming language is specified, then use Python for the language of the code.

If you need to create a notebook use the create_new_notebook tool. If you need to add a code cell to the notebook use the add_code_cell tool. If you need to add a markdown cell to the notebook use the add_markdown_cell tool.

If you need to rename a notebook use the rename_notebook tool.

You can refer to cells in notebooks by their index. The first cell in the notebook has index 0, the second cell has index 1, and so on. You can get the number of cells in the notebook using the get_number_of_cells tool. You can get the type and source of a cell using the get_cell_type_and_source tool. You can get the output of a cell using the get_cell_output tool.

If you need to make changes to an existing notebook use the tools to get existing cell type and source. Use the set_cell_type_and_source tool for updating cell type and source. You can set the cell type to either code or markdown. You can set the source of the cell to either source code or markdown text.

If you need to install any packages you shoud use %pip install <package_name> in a code cell instead of !pip install <package_name>.

If you need to detect issues in a notebook check the code cell sources and also the cell output for any problems.

After you are done making changes to the notebook, save the notebook using the save_notebook tool.

First create an execution plan and show before calling any tools. The execution plan should be a list of steps that you will take. Then call the tools to execute the plan.
`

const notebookExecuteInstructions = `
Running a notebook and executing a notebook refer to the same thing. Running a notebook means executing all the cells in the notebook in order. If you need to run a cell in the notebook use the run_cell tool with the cell index. Executing a cell and running a cell are the same thing.

If you create a new notebook and run it, then check for errors in the output of the cells. If there are any errors in the output, update the cell code that caused the error to fix it and rerun the cell. Repeat until there are no errors in the output of the cells.

If you are asked to analyze a dataset, you should fist create a notebook and add the code cells and markdown cells to the notebook which are needed to analyze the dataset and run all the cells.

After you are done running the notebook, save the notebook using the save_notebook tool.
`

const pythonFileEditInstructions = `
If you need to create a new Python file use the create_new_python_file tool. If you need to edit an existing Python file use the get_file_content tool to get the content of the file and then use the set_file_content tool to set the content of the file.

If user is referring to a file, then you can use the get_file_content tool to get the content of the file and then use the set_file_content tool to set the content of the file.
`

func objectParameters(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	reqAny := make([]any, len(required))
	for i, r := range required {
		reqAny[i] = r
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             reqAny,
		"additionalProperties": false,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// uiTool builds an auto-approved tool that runs a frontend command and
// reports the given result string, or the raw command response when
// result is empty.
func uiTool(name, description string, params map[string]any, required []string, command string, cmdArgs func(args map[string]any) map[string]any, result func(resp map[string]any) string) *FuncTool {
	return &FuncTool{
		ToolName:        name,
		ToolDescription: description,
		ToolSchema: ToolSchema{
			Type: "function",
			Function: ToolFunction{
				Name:        name,
				Description: description,
				Parameters:  objectParameters(params, required...),
			},
		},
		AutoApprove: true,
		Fn: func(ctx context.Context, req *Request, resp Response, args map[string]any) (any, error) {
			var mapped map[string]any
			if cmdArgs != nil {
				mapped = cmdArgs(args)
			} else {
				mapped = map[string]any{}
			}
			cmdResp, err := resp.RunUICommand(ctx, command, mapped)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return jsonutil.MustJSON(cmdResp), nil
			}
			return result(cmdResp), nil
		},
	}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// BuiltinToolsets returns the notebook and Python file toolsets
// available to agent mode.
func BuiltinToolsets() []*Toolset {
	notebookEdit := &Toolset{
		ID:           ToolsetNotebookEdit,
		Name:         "Notebook edit",
		Description:  "Notebook edit",
		Instructions: notebookEditInstructions,
		Tools: []Tool{
			uiTool("create_new_notebook", "Creates a new empty notebook.", map[string]any{}, nil,
				"notebook-intelligence:create-new-notebook-from-py",
				func(map[string]any) map[string]any { return map[string]any{"code": ""} },
				func(resp map[string]any) string {
					return fmt.Sprintf("Created new notebook at %v", resp["path"])
				}),
			uiTool("rename_notebook", "Renames the notebook.",
				map[string]any{"new_name": stringProp("New name for the notebook")}, []string{"new_name"},
				"notebook-intelligence:rename-notebook",
				func(args map[string]any) map[string]any {
					return map[string]any{"newName": stringArg(args, "new_name")}
				}, nil),
			uiTool("add_markdown_cell", "Adds a markdown cell to notebook.",
				map[string]any{"source": stringProp("Markdown source")}, []string{"source"},
				"notebook-intelligence:add-markdown-cell-to-active-notebook",
				func(args map[string]any) map[string]any {
					return map[string]any{"source": stringArg(args, "source")}
				},
				func(map[string]any) string { return "Added markdown cell to notebook" }),
			uiTool("add_code_cell", "Adds a code cell to notebook.",
				map[string]any{"source": stringProp("Python code source")}, []string{"source"},
				"notebook-intelligence:add-code-cell-to-active-notebook",
				func(args map[string]any) map[string]any {
					return map[string]any{"source": stringArg(args, "source")}
				},
				func(map[string]any) string { return "Added code cell to notebook" }),
			uiTool("get_number_of_cells", "Get number of cells for the active notebook.", map[string]any{}, nil,
				"notebook-intelligence:get-number-of-cells", nil, nil),
			uiTool("get_cell_output", "Get cell output for the cell at index for the active notebook.",
				map[string]any{"cell_index": intProp("Zero based cell index")}, []string{"cell_index"},
				"notebook-intelligence:get-cell-output",
				func(args map[string]any) map[string]any {
					return map[string]any{"cellIndex": intArg(args, "cell_index")}
				}, nil),
			uiTool("get_cell_type_and_source", "Get cell type and source for the cell at index for the active notebook.",
				map[string]any{"cell_index": intProp("Zero based cell index")}, []string{"cell_index"},
				"notebook-intelligence:get-cell-type-and-source",
				func(args map[string]any) map[string]any {
					return map[string]any{"cellIndex": intArg(args, "cell_index")}
				}, nil),
			uiTool("set_cell_type_and_source", "Set cell type and source for the cell at index for the active notebook.",
				map[string]any{
					"cell_index": intProp("Zero based cell index"),
					"cell_type":  stringProp("Cell type (code or markdown)"),
					"source":     stringProp("Markdown or Python code source"),
				}, []string{"cell_index", "cell_type", "source"},
				"notebook-intelligence:set-cell-type-and-source",
				func(args map[string]any) map[string]any {
					return map[string]any{
						"cellIndex": intArg(args, "cell_index"),
						"cellType":  stringArg(args, "cell_type"),
						"source":    stringArg(args, "source"),
					}
				}, nil),
			uiTool("delete_cell", "Delete the cell at index for the active notebook.",
				map[string]any{"cell_index": intProp("Zero based cell index")}, []string{"cell_index"},
				"notebook-intelligence:delete-cell-at-index",
				func(args map[string]any) map[string]any {
					return map[string]any{"cellIndex": intArg(args, "cell_index")}
				},
				func(map[string]any) string { return "Deleted the cell" }),
			uiTool("insert_cell", "Insert cell with type and source at index for the active notebook.",
				map[string]any{
					"cell_index": intProp("Zero based cell index"),
					"cell_type":  stringProp("Cell type (code or markdown)"),
					"source":     stringProp("Markdown or Python code source"),
				}, []string{"cell_index", "cell_type", "source"},
				"notebook-intelligence:insert-cell-at-index",
				func(args map[string]any) map[string]any {
					return map[string]any{
						"cellIndex": intArg(args, "cell_index"),
						"cellType":  stringArg(args, "cell_type"),
						"source":    stringArg(args, "source"),
					}
				}, nil),
			uiTool("save_notebook", "Save the changes in active notebook to disk.", map[string]any{}, nil,
				"docmanager:save", nil,
				func(map[string]any) string { return "Saved the notebook" }),
		},
	}

	notebookExecute := &Toolset{
		ID:           ToolsetNotebookExecute,
		Name:         "Notebook execute",
		Description:  "Notebook execute",
		Instructions: notebookExecuteInstructions,
		Tools: []Tool{
			uiTool("run_cell", "Run the cell at index for the active notebook.",
				map[string]any{"cell_index": intProp("Zero based cell index")}, []string{"cell_index"},
				"notebook-intelligence:run-cell-at-index",
				func(args map[string]any) map[string]any {
					return map[string]any{"cellIndex": intArg(args, "cell_index")}
				},
				func(map[string]any) string { return "Ran the cell" }),
		},
	}

	pythonFileEdit := &Toolset{
		ID:           ToolsetPythonFileEdit,
		Name:         "Python file edit",
		Description:  "Python file edit",
		Instructions: pythonFileEditInstructions,
		Tools: []Tool{
			uiTool("create_new_python_file", "Creates a new Python file.",
				map[string]any{"code": stringProp("Python code source")}, []string{"code"},
				"notebook-intelligence:create-new-file",
				func(args map[string]any) map[string]any {
					return map[string]any{"code": stringArg(args, "code")}
				},
				func(resp map[string]any) string {
					return fmt.Sprintf("Created new Python file at %v", resp["path"])
				}),
			uiTool("get_file_content", "Returns the content of the current file.", map[string]any{}, nil,
				"notebook-intelligence:get-current-file-content", nil, nil),
			uiTool("set_file_content", "Sets the content of the current file.",
				map[string]any{"content": stringProp("File content")}, []string{"content"},
				"notebook-intelligence:set-current-file-content",
				func(args map[string]any) map[string]any {
					return map[string]any{"content": stringArg(args, "content")}
				},
				func(map[string]any) string { return "Set the file content" }),
		},
	}

	return []*Toolset{notebookEdit, notebookExecute, pythonFileEdit}
}
