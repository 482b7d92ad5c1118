// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// PHP tree-sitter node types used by the walker.
const (
	nodeFunctionDefinition = "function_definition"
	nodeMethodDeclaration  = "method_declaration"
	nodeFunctionCall       = "function_call_expression"
	nodeMemberCall         = "member_call_expression"
	nodeNullsafeMemberCall = "nullsafe_member_call_expression"
	nodeScopedCall         = "scoped_call_expression"
	nodeObjectCreation     = "object_creation_expression"
	nodeClassDeclaration   = "class_declaration"
	nodeName               = "name"
	constructorName        = "__construct"
	fieldName              = "name"
	fieldBody              = "body"
)

// =============================================================================
// NODE KINDS
// =============================================================================

// NodeKind is the walker's view of a syntax node.
type NodeKind int

const (
	// KindOther is any node the walker only descends into.
	KindOther NodeKind = iota

	// KindDefinition is a function or method definition.
	KindDefinition

	// KindPlainCall is a call to a free function.
	KindPlainCall

	// KindCrossFileCall is a method call or object construction whose
	// target must be resolved externally.
	KindCrossFileCall
)

// String returns a human-readable kind name.
func (k NodeKind) String() string {
	switch k {
	case KindDefinition:
		return "definition"
	case KindPlainCall:
		return "plain_call"
	case KindCrossFileCall:
		return "cross_file_call"
	default:
		return "other"
	}
}

// Classify maps a node onto the closed set of kinds the walker handles.
func Classify(node *sitter.Node) NodeKind {
	if node == nil {
		return KindOther
	}
	switch node.Type() {
	case nodeFunctionDefinition, nodeMethodDeclaration:
		return KindDefinition
	case nodeFunctionCall:
		return KindPlainCall
	case nodeMemberCall, nodeNullsafeMemberCall, nodeScopedCall, nodeObjectCreation:
		return KindCrossFileCall
	default:
		return KindOther
	}
}

// IsDefinition reports whether node is a function or method definition.
func IsDefinition(node *sitter.Node) bool {
	return Classify(node) == KindDefinition
}

// IsObjectCreation reports whether node constructs an object (`new Foo()`).
func IsObjectCreation(node *sitter.Node) bool {
	return node != nil && node.Type() == nodeObjectCreation
}

// NodeKey identifies a node within one parsed file.
//
// Two distinct nodes share a key only when they have the same type and the
// same byte span, in which case their text is identical as well.
type NodeKey struct {
	Start uint32
	End   uint32
	Type  string
}

// KeyOf returns the key of node.
func KeyOf(node *sitter.Node) NodeKey {
	return NodeKey{Start: node.StartByte(), End: node.EndByte(), Type: node.Type()}
}

// =============================================================================
// POSITIONS
// =============================================================================

// StartLine returns the 1-based line on which node starts.
func StartLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// EndLine returns the 1-based line on which node ends.
func EndLine(node *sitter.Node) int {
	return int(node.EndPoint().Row) + 1
}

func coversLines(node *sitter.Node, startLine, endLine int) bool {
	return StartLine(node) <= startLine && EndLine(node) >= endLine
}

func withinLines(node *sitter.Node, startLine, endLine int) bool {
	return StartLine(node) >= startLine && EndLine(node) <= endLine
}

// LocateNodeForLineRange finds the smallest named node under root whose line
// span covers [startLine, endLine] (1-based, inclusive).
//
// Description:
//
//	Descends from root, at each level taking the first named child that
//	still covers the range. Returns nil when root itself does not cover the
//	range or the range is invalid. The caller decides what to do with a
//	miss; there is no fallback to root.
func LocateNodeForLineRange(root *sitter.Node, startLine, endLine int) *sitter.Node {
	if root == nil || startLine < 1 || endLine < startLine {
		return nil
	}
	if !coversLines(root, startLine, endLine) {
		return nil
	}

	node := root
	for {
		var next *sitter.Node
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child != nil && coversLines(child, startLine, endLine) {
				next = child
				break
			}
		}
		if next == nil {
			return node
		}
		node = next
	}
}

// =============================================================================
// NAMES
// =============================================================================

// FindChildOfKind returns the first descendant of node with the given type.
//
// The search is depth-first, but a node's direct children are inspected
// before the search descends into any of them. For `$obj->run()` this yields
// the `run` token rather than the `obj` inside the variable.
func FindChildOfKind(node *sitter.Node, kind string) *sitter.Node {
	if node == nil {
		return nil
	}
	count := int(node.ChildCount())
	for i := 0; i < count; i++ {
		if child := node.Child(i); child != nil && child.Type() == kind {
			return child
		}
	}
	for i := 0; i < count; i++ {
		if found := FindChildOfKind(node.Child(i), kind); found != nil {
			return found
		}
	}
	return nil
}

// CalleeName returns the name token of a call node.
//
// Member and static calls carry the method name in their `name` field. For
// object construction the class name is the first `name` token, which for a
// qualified name is its last segment.
func CalleeName(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if field := node.ChildByFieldName(fieldName); field != nil && field.Type() == nodeName {
		return field
	}
	return FindChildOfKind(node, nodeName)
}

// ExtractName returns the name of the definition node is, or is inside.
//
// Returns "" when node is not within a function or method definition.
func ExtractName(node *sitter.Node, content []byte) string {
	def := enclosingDefinition(node)
	if def == nil {
		return ""
	}
	if field := def.ChildByFieldName(fieldName); field != nil {
		return field.Content(content)
	}
	if name := FindChildOfKind(def, nodeName); name != nil {
		return name.Content(content)
	}
	return ""
}

func enclosingDefinition(node *sitter.Node) *sitter.Node {
	for n := node; n != nil; n = n.Parent() {
		if IsDefinition(n) {
			return n
		}
	}
	return nil
}

// FindDefinition returns the first function or method definition under root,
// in document order, whose name is name. Returns nil if there is none.
func FindDefinition(root *sitter.Node, content []byte, name string) *sitter.Node {
	var found *sitter.Node
	walkDefinitions(root, func(def *sitter.Node) bool {
		if field := def.ChildByFieldName(fieldName); field != nil && field.Content(content) == name {
			found = def
			return false
		}
		return true
	})
	return found
}

// DefinitionNames lists the names of all definitions under root in document
// order.
func DefinitionNames(root *sitter.Node, content []byte) []string {
	var names []string
	walkDefinitions(root, func(def *sitter.Node) bool {
		if field := def.ChildByFieldName(fieldName); field != nil {
			names = append(names, field.Content(content))
		}
		return true
	})
	return names
}

// walkDefinitions visits definitions in document order until fn returns false.
func walkDefinitions(root *sitter.Node, fn func(*sitter.Node) bool) {
	if root == nil {
		return
	}
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if IsDefinition(node) && !fn(node) {
			return
		}
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			if child := node.NamedChild(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
}

// =============================================================================
// RANGE TO DEFINITION
// =============================================================================

// headerEndLine returns the last line of a declaration header: the line its
// body opens on, or its last line when it has no body.
func headerEndLine(node *sitter.Node) int {
	if body := node.ChildByFieldName(fieldBody); body != nil {
		return StartLine(body)
	}
	return EndLine(node)
}

// DefinitionForRange maps a node located for [startLine, endLine] onto the
// function or method definition that range denotes.
//
// Description:
//
//	Language servers report either the whole declaration or just its name.
//	The located node is accepted when it is a definition. Otherwise the
//	nearest definition ancestor is accepted if startLine falls within its
//	header, so a range inside a function body never selects the function.
//	Failing that, a definition directly under the located node that ends on
//	endLine is used, which covers ranges that include a leading doc comment.
//
// Outputs:
//
//	*sitter.Node - The definition, or nil when the range does not denote one
func DefinitionForRange(node *sitter.Node, startLine, endLine int) *sitter.Node {
	return shapeForRange(node, startLine, endLine, IsDefinition)
}

// ClassForRange is DefinitionForRange for class declarations.
func ClassForRange(node *sitter.Node, startLine, endLine int) *sitter.Node {
	return shapeForRange(node, startLine, endLine, func(n *sitter.Node) bool {
		return n.Type() == nodeClassDeclaration
	})
}

func shapeForRange(node *sitter.Node, startLine, endLine int, match func(*sitter.Node) bool) *sitter.Node {
	if node == nil {
		return nil
	}
	if match(node) {
		return node
	}

	for n := node.Parent(); n != nil; n = n.Parent() {
		if !match(n) {
			continue
		}
		if startLine >= StartLine(n) && startLine <= headerEndLine(n) {
			return n
		}
		break
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child != nil && match(child) && withinLines(child, startLine, endLine) && EndLine(child) == endLine {
			return child
		}
	}
	return nil
}

// ConstructorOf returns the __construct method of a class declaration, or nil.
func ConstructorOf(class *sitter.Node, content []byte) *sitter.Node {
	if class == nil {
		return nil
	}
	body := class.ChildByFieldName(fieldBody)
	if body == nil {
		return nil
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member == nil || member.Type() != nodeMethodDeclaration {
			continue
		}
		if name := member.ChildByFieldName(fieldName); name != nil && name.Content(content) == constructorName {
			return member
		}
	}
	return nil
}
