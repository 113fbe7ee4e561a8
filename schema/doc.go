// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package schema 提供 JSON Schema 建模、反射生成与字段级校验能力。

# 概述

agenttype 目录中的每种请求、响应、流式分片结构体都通过 Generator
推导出 JSONSchema，再由 Validator 对解码后的 JSON 值逐字段校验，
错误信息携带 JSON 路径（如 messages[0].role）。

# 主要类型

  - JSONSchema — Schema 定义，支持 object/array/enum/nullable 与常用约束
  - Generator — 通过反射从 Go 类型生成 JSONSchema，支持 jsonschema 标签
  - Validator — 对 JSON 字节或已解码的值进行校验，并发安全
  - FieldError / ValidationErrors — 校验结果

# 典型用法

	s, _ := schema.For[agenttype.ChatAgentRequest]()
	if err := schema.NewValidator().ValidateValue(payload, s); err != nil {
		// 处理校验错误
	}
*/
package schema
